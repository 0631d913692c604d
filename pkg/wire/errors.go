/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package wire

import "errors"

var (
	// ErrUnknownKind is returned for a (length, tag) combination no kind uses.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrTagMismatch is returned when a payload of a tagged kind carries the wrong tag.
	ErrTagMismatch = errors.New("message tag mismatch")
	// ErrBadRole is returned for a role byte outside the known roles.
	ErrBadRole = errors.New("invalid role")
	// ErrTooManyEntries is returned when a FullSync claims more than MaxSyncEntries entries.
	ErrTooManyEntries = errors.New("too many race entries")
)
