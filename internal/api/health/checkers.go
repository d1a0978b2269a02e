package health

import (
	"context"
	"fmt"
)

// Pinger interface for stores that support ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a store by pinging it.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a checker named name, for example "sqlite" or
// "clickhouse".
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: p}
}

// Name returns the checker name.
func (c *PingChecker) Name() string {
	return c.name
}

// Check verifies the store is reachable.
func (c *PingChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("%s not configured", c.name)
	}
	return c.pinger.Ping(ctx)
}

// FuncChecker adapts a function to a Checker.
type FuncChecker struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncChecker creates a checker that calls fn.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: fn}
}

// Name returns the checker name.
func (c *FuncChecker) Name() string {
	return c.name
}

// Check calls the wrapped function.
func (c *FuncChecker) Check(ctx context.Context) error {
	return c.check(ctx)
}
