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

package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// MaxDistanceCM is used for readings of zero, which the ultrasonic ranger reports
	// when no echo returns.
	MaxDistanceCM = 400.0
	// DefaultThresholdCM is the change from baseline that counts as a broken beam.
	DefaultThresholdCM = 50.0
)

var errNotCalibrated = errors.New("sensor not calibrated")

// Measurer polls the gate once.
type Measurer interface {
	Measure(ctx context.Context) (triggered bool, err error)
}

// DistanceFunc reads the current distance in centimetres.
type DistanceFunc func(ctx context.Context) (float64, error)

// DistanceMeasurer compares readings against a calibrated baseline.
type DistanceMeasurer struct {
	read      DistanceFunc
	threshold float64

	mu       sync.RWMutex
	baseline float64
	ready    bool
}

func NewDistanceMeasurer(read DistanceFunc, thresholdCM float64) *DistanceMeasurer {
	if thresholdCM <= 0 {
		thresholdCM = DefaultThresholdCM
	}

	return &DistanceMeasurer{read: read, threshold: thresholdCM}
}

func clampDistance(d float64) float64 {
	if d <= 0 {
		return MaxDistanceCM
	}

	return d
}

// Calibrate takes the current reading as the baseline.
func (m *DistanceMeasurer) Calibrate(ctx context.Context) (float64, error) {
	d, err := m.read(ctx)
	if err != nil {
		return 0, fmt.Errorf("calibration read failed: %w", err)
	}

	d = clampDistance(d)

	m.mu.Lock()
	m.baseline = d
	m.ready = true
	m.mu.Unlock()

	return d, nil
}

func (m *DistanceMeasurer) Measure(ctx context.Context) (bool, error) {
	m.mu.RLock()
	baseline, ready := m.baseline, m.ready
	m.mu.RUnlock()

	if !ready {
		return false, errNotCalibrated
	}

	d, err := m.read(ctx)
	if err != nil {
		return false, err
	}

	return math.Abs(clampDistance(d)-baseline) >= m.threshold, nil
}

// LineMeasurer reports one broken-beam reading per non-empty input line. It stands in
// for real hardware on the bench, fed from stdin or a serial bridge.
type LineMeasurer struct {
	pending atomic.Int64
	err     atomic.Value
}

// NewLineMeasurer starts consuming r in the background.
func NewLineMeasurer(r io.Reader) *LineMeasurer {
	m := &LineMeasurer{}

	go m.consume(r)

	return m
}

func (m *LineMeasurer) consume(r io.Reader) {
	sc := bufio.NewScanner(r)

	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			m.pending.Add(1)
		}
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}

	m.err.Store(err)
}

// Measure consumes one pending line. After the input ends every call returns the
// terminating error (io.EOF for a clean end).
func (m *LineMeasurer) Measure(context.Context) (bool, error) {
	for {
		n := m.pending.Load()
		if n == 0 {
			break
		}

		if m.pending.CompareAndSwap(n, n-1) {
			return true, nil
		}
	}

	if err, ok := m.err.Load().(error); ok {
		return false, err
	}

	return false, nil
}
