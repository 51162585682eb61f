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
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wastore/blobmover/common"
)

// ConfiguredInt is an integer which may be optionally configured by user through an environment variable
type ConfiguredInt struct {
	Value             int
	IsUserSpecified   bool
	EnvVarName        string
	DefaultSourceDesc string
}

func (i *ConfiguredInt) GetDescription() string {
	if i.IsUserSpecified {
		return fmt.Sprintf("Based on %s environment variable", i.EnvVarName)
	}
	return fmt.Sprintf("Based on %s. Set %s environment variable to override", i.DefaultSourceDesc, i.EnvVarName)
}

// tryNewConfiguredInt populates a ConfiguredInt from an environment variable, or returns nil if env var is not set
func tryNewConfiguredInt(envVar common.EnvironmentVariable) (*ConfiguredInt, error) {
	override, ok := common.LookupEnvironmentVariable(envVar)
	if !ok {
		return nil, nil
	}
	val, err := strconv.ParseInt(override, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing the env %s %q", envVar.Name, override)
	}
	if val <= 0 {
		return nil, errors.Errorf("the env %s must be positive, got %d", envVar.Name, val)
	}
	return &ConfiguredInt{int(val), true, envVar.Name, ""}, nil
}

// ConfiguredBool is a boolean which may be optionally configured by user through an environment variable
type ConfiguredBool struct {
	Value             bool
	IsUserSpecified   bool
	EnvVarName        string
	DefaultSourceDesc string
}

func (b *ConfiguredBool) GetDescription() string {
	if b.IsUserSpecified {
		return fmt.Sprintf("Based on %s environment variable", b.EnvVarName)
	}
	return fmt.Sprintf("Based on %s. Set %s environment variable to true or false override", b.DefaultSourceDesc, b.EnvVarName)
}

func tryNewConfiguredBool(envVar common.EnvironmentVariable) (*ConfiguredBool, error) {
	override, ok := common.LookupEnvironmentVariable(envVar)
	if !ok {
		return nil, nil
	}
	val, err := strconv.ParseBool(override)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing the env %s %q", envVar.Name, override)
	}
	return &ConfiguredBool{val, true, envVar.Name, ""}, nil
}

// CopyPollPolicy decides how long the copy monitor waits between status polls
type CopyPollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Exponential bool
}

// Delay returns the wait before poll number attempt+1 (attempt counts from zero)
func (p CopyPollPolicy) Delay(attempt int) time.Duration {
	d := p.Interval
	if d <= 0 {
		d = time.Second
	}
	if p.Exponential {
		for i := 0; i < attempt && (p.MaxInterval <= 0 || d < p.MaxInterval); i++ {
			d *= 2
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

// EngineSettings is every tunable of the engine, as resolved from the environment and the machine
type EngineSettings struct {
	// Concurrency is the number of work items the driver executes at once
	Concurrency *ConfiguredInt

	// BufferBytes caps the memory held in chunk buffers across all transfers
	BufferBytes int64
	BufferDesc  string

	// WindowSize is the maximum number of chunks per transfer dispatched but not yet durable
	WindowSize *ConfiguredInt

	CopyPoll CopyPollPolicy

	// PageRangeQuerySpan is the length of blob covered by one page range listing
	PageRangeQuerySpan int64

	OptimizeSparsePageBlobTransfers *ConfiguredBool
}

const (
	defaultWindowSize          = 64
	defaultPageRangeQuerySpan  = 512 * common.MiB
	checkpointSaveInterval     = time.Second
)

// NewEngineSettings reads the BLOBMOVER_* environment variables, and falls back to
// machine-derived defaults for anything not set
func NewEngineSettings() (EngineSettings, error) {
	s := EngineSettings{}
	var err error

	if s.Concurrency, err = getConcurrency(runtime.NumCPU()); err != nil {
		return s, err
	}
	if s.BufferBytes, s.BufferDesc, err = getBufferBytes(); err != nil {
		return s, err
	}

	if s.WindowSize, err = tryNewConfiguredInt(common.EEnvironmentVariable.WindowSize()); err != nil {
		return s, err
	} else if s.WindowSize == nil {
		s.WindowSize = &ConfiguredInt{defaultWindowSize, false, common.EEnvironmentVariable.WindowSize().Name, "hard-coded default"}
	}

	if s.CopyPoll, err = getCopyPollPolicy(); err != nil {
		return s, err
	}

	s.PageRangeQuerySpan = defaultPageRangeQuerySpan
	if c, err := tryNewConfiguredInt(common.EEnvironmentVariable.PageRangeQuerySpanMB()); err != nil {
		return s, err
	} else if c != nil {
		s.PageRangeQuerySpan = int64(c.Value) * common.MiB
	}

	if s.OptimizeSparsePageBlobTransfers, err = tryNewConfiguredBool(common.EEnvironmentVariable.OptimizeSparsePageBlobTransfers()); err != nil {
		return s, err
	} else if s.OptimizeSparsePageBlobTransfers == nil {
		s.OptimizeSparsePageBlobTransfers = &ConfiguredBool{true, false, common.EEnvironmentVariable.OptimizeSparsePageBlobTransfers().Name, "hard-coded default"}
	}

	return s, nil
}

// DefaultEngineSettings is NewEngineSettings without the environment, for tests and embedding
func DefaultEngineSettings() EngineSettings {
	concurrency, _ := getConcurrency(runtime.NumCPU())
	return EngineSettings{
		Concurrency:                     concurrency,
		BufferBytes:                     getMaxRamForChunks(),
		BufferDesc:                      "installed RAM",
		WindowSize:                      &ConfiguredInt{defaultWindowSize, false, common.EEnvironmentVariable.WindowSize().Name, "hard-coded default"},
		CopyPoll:                        CopyPollPolicy{Interval: 2 * time.Second, MaxInterval: 30 * time.Second, Exponential: true},
		PageRangeQuerySpan:              defaultPageRangeQuerySpan,
		OptimizeSparsePageBlobTransfers: &ConfiguredBool{true, false, common.EEnvironmentVariable.OptimizeSparsePageBlobTransfers().Name, "hard-coded default"},
	}
}

func getConcurrency(numOfCPUs int) (*ConfiguredInt, error) {
	envVar := common.EEnvironmentVariable.ConcurrencyValue()
	if c, err := tryNewConfiguredInt(envVar); c != nil || err != nil {
		return c, err
	}

	var value int
	if numOfCPUs <= 4 {
		// fix the concurrency value for smaller machines
		value = 32
	} else if 16*numOfCPUs > 300 {
		value = 300
	} else {
		value = 16 * numOfCPUs
	}
	return &ConfiguredInt{value, false, envVar.Name, "number of CPUs"}, nil
}

func getBufferBytes() (int64, string, error) {
	envVar := common.EEnvironmentVariable.BufferGB()
	if override, ok := common.LookupEnvironmentVariable(envVar); ok {
		gb, err := strconv.ParseFloat(override, 64)
		if err != nil || gb <= 0 {
			return 0, "", errors.Errorf("error parsing the env %s %q: must be a positive number of GB", envVar.Name, override)
		}
		return int64(gb * common.GiB), fmt.Sprintf("Based on %s environment variable", envVar.Name), nil
	}
	return getMaxRamForChunks(), "Based on installed RAM", nil
}

// getMaxRamForChunks allows half a GB per CPU, up to 16 GB, but never more than half of the installed RAM
func getMaxRamForChunks() int64 {
	const gbToUsePerCpu = 0.5
	const maxTotalGB = 16
	gbToUse := float64(runtime.NumCPU()) * gbToUsePerCpu
	if gbToUse > maxTotalGB {
		gbToUse = maxTotalGB
	}
	maxBytes := int64(gbToUse * common.GiB)

	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		if half := int64(vm.Total / 2); half < maxBytes {
			maxBytes = half
		}
	}
	return maxBytes
}

func getCopyPollPolicy() (CopyPollPolicy, error) {
	parse := func(envVar common.EnvironmentVariable) (time.Duration, error) {
		raw := common.GetEnvironmentVariable(envVar)
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return 0, errors.Errorf("error parsing the env %s %q: must be a positive duration such as 2s", envVar.Name, raw)
		}
		return d, nil
	}

	var p CopyPollPolicy
	var err error
	if p.Interval, err = parse(common.EEnvironmentVariable.CopyPollInterval()); err != nil {
		return p, err
	}
	if p.MaxInterval, err = parse(common.EEnvironmentVariable.CopyPollMaxInterval()); err != nil {
		return p, err
	}

	envVar := common.EEnvironmentVariable.CopyPollBackoff()
	switch backoff := strings.ToLower(common.GetEnvironmentVariable(envVar)); backoff {
	case "exponential":
		p.Exponential = true
	case "fixed":
		p.Exponential = false
	default:
		return p, errors.Errorf("error parsing the env %s %q: must be exponential or fixed", envVar.Name, backoff)
	}
	return p, nil
}
