// Copyright © 2017 Microsoft <wastore@microsoft.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package ste

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wastore/blobmover/common"
)

const (
	minConcurrency = 32
	maxConcurrency = 300
)

func TestConcurrencyValue(t *testing.T) {
	a := assert.New(t)
	// weak machines
	for i := 1; i < 5; i++ {
		c, err := getConcurrency(i)
		a.NoError(err)
		a.Equal(minConcurrency, c.Value)
		a.False(c.IsUserSpecified)
	}

	// moderately powerful machines
	for i := 5; i < 19; i++ {
		c, err := getConcurrency(i)
		a.NoError(err)
		a.Equal(16*i, c.Value)
	}

	// powerful machines
	for i := 19; i < 24; i++ {
		c, err := getConcurrency(i)
		a.NoError(err)
		a.Equal(maxConcurrency, c.Value)
	}
}

func TestConcurrencyFromEnvironment(t *testing.T) {
	a := assert.New(t)
	t.Setenv(common.EEnvironmentVariable.ConcurrencyValue().Name, "7")

	c, err := getConcurrency(64)
	a.NoError(err)
	a.Equal(7, c.Value)
	a.True(c.IsUserSpecified)
	a.Contains(c.GetDescription(), "BLOBMOVER_CONCURRENCY_VALUE")
}

func TestBadEnvironmentValuesAreErrors(t *testing.T) {
	a := assert.New(t)

	t.Setenv(common.EEnvironmentVariable.WindowSize().Name, "lots")
	_, err := NewEngineSettings()
	a.Error(err)

	t.Setenv(common.EEnvironmentVariable.WindowSize().Name, "-3")
	_, err = NewEngineSettings()
	a.Error(err)

	t.Setenv(common.EEnvironmentVariable.WindowSize().Name, "8")
	t.Setenv(common.EEnvironmentVariable.CopyPollBackoff().Name, "sometimes")
	_, err = NewEngineSettings()
	a.Error(err)
}

func TestEngineSettingsFromEnvironment(t *testing.T) {
	a := assert.New(t)
	t.Setenv(common.EEnvironmentVariable.WindowSize().Name, "8")
	t.Setenv(common.EEnvironmentVariable.CopyPollInterval().Name, "250ms")
	t.Setenv(common.EEnvironmentVariable.CopyPollMaxInterval().Name, "1s")
	t.Setenv(common.EEnvironmentVariable.CopyPollBackoff().Name, "fixed")
	t.Setenv(common.EEnvironmentVariable.PageRangeQuerySpanMB().Name, "4")
	t.Setenv(common.EEnvironmentVariable.BufferGB().Name, "0.5")

	s, err := NewEngineSettings()
	a.NoError(err)
	a.Equal(8, s.WindowSize.Value)
	a.True(s.WindowSize.IsUserSpecified)
	a.Equal(CopyPollPolicy{Interval: 250 * time.Millisecond, MaxInterval: time.Second}, s.CopyPoll)
	a.Equal(int64(4*common.MiB), s.PageRangeQuerySpan)
	a.Equal(int64(common.GiB/2), s.BufferBytes)
}

func TestCopyPollPolicyDelay(t *testing.T) {
	a := assert.New(t)

	fixed := CopyPollPolicy{Interval: time.Second, MaxInterval: 10 * time.Second}
	a.Equal(time.Second, fixed.Delay(0))
	a.Equal(time.Second, fixed.Delay(5))

	exp := CopyPollPolicy{Interval: time.Second, MaxInterval: 10 * time.Second, Exponential: true}
	a.Equal(time.Second, exp.Delay(0))
	a.Equal(2*time.Second, exp.Delay(1))
	a.Equal(8*time.Second, exp.Delay(3))
	a.Equal(10*time.Second, exp.Delay(4))
	a.Equal(10*time.Second, exp.Delay(40))
}

func TestMaxRamForChunksIsBounded(t *testing.T) {
	a := assert.New(t)
	n := getMaxRamForChunks()
	a.Greater(n, int64(0))
	a.LessOrEqual(n, int64(16*common.GiB))
}
