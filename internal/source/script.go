package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

type cappedBuffer struct {
	buffer bytes.Buffer
	max    int
}

// Write appends data up to the cap and drops the rest while reporting full consumption.
// Params: payload chunk bytes.
// Returns: input size to keep the command pipe draining.
func (b *cappedBuffer) Write(payload []byte) (int, error) {
	remaining := b.max - b.buffer.Len()
	if remaining > 0 {
		if len(payload) > remaining {
			b.buffer.Write(payload[:remaining])
		} else {
			b.buffer.Write(payload)
		}
	}
	return len(payload), nil
}

// ScriptSourceOptions describes one script attribute source.
// Params: executable path, timeout, extra environment, payload format and Prometheus domain.
// Returns: source options.
type ScriptSourceOptions struct {
	Path    string
	Timeout time.Duration
	Env     map[string]string
	Format  string
	Domain  string
}

// ScriptSource runs an executable and parses its stdout.
// Params: source name and options.
// Returns: script attribute source.
type ScriptSource struct {
	name    string
	path    string
	timeout time.Duration
	env     []string
	decode  payloadDecoder
}

// NewScriptSource creates a script source.
// Params: name registered source name; options execution and parsing settings.
// Returns: configured source or error on empty path or unknown format.
func NewScriptSource(name string, options ScriptSourceOptions) (*ScriptSource, error) {
	path := strings.TrimSpace(options.Path)
	if path == "" {
		return nil, fmt.Errorf("source %q: path is required", name)
	}
	decode, err := newPayloadDecoder(options.Format, defaultDomain(options.Domain, name))
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", name, err)
	}

	return &ScriptSource{
		name:    name,
		path:    path,
		timeout: options.Timeout,
		env:     mergeEnvironment(options.Env),
		decode:  decode,
	}, nil
}

// Name returns the registered source name.
// Params: none.
// Returns: source name.
func (s *ScriptSource) Name() string {
	return s.name
}

// Objects runs the script and parses stdout.
// Params: ctx for cancellation.
// Returns: parsed objects or execution/parse error.
func (s *ScriptSource) Objects(ctx context.Context) ([]Object, error) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	command := exec.CommandContext(runCtx, s.path)
	command.Env = s.env
	stdout := &cappedBuffer{max: MaxPayloadBytes + 1}
	stderr := &cappedBuffer{max: 8 * 1024}
	command.Stdout = stdout
	command.Stderr = stderr

	if err := command.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("script %q timed out after %s", s.path, s.timeout)
		}
		stderrText := strings.TrimSpace(stderr.buffer.String())
		if stderrText == "" {
			return nil, fmt.Errorf("run script %q: %w", s.path, err)
		}
		return nil, fmt.Errorf("run script %q: %w (stderr: %s)", s.path, err, stderrText)
	}

	objects, err := s.decode(bytes.NewReader(stdout.buffer.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parse script %q stdout: %w", s.path, err)
	}
	return objects, nil
}

// mergeEnvironment builds command environment with overrides from config.
// Params: overrides key-value map.
// Returns: process environment slice with overrides appended in key order.
func mergeEnvironment(overrides map[string]string) []string {
	out := make([]string, 0, len(os.Environ())+len(overrides))
	out = append(out, os.Environ()...)

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, key+"="+overrides[key])
	}
	return out
}
