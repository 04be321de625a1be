// SPDX-FileCopyrightText: Copyright (C) 2021  David Stainton, 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/session"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// tally accumulates the outcome of the calls of one run.
type tally struct {
	sync.Mutex

	passed, failed int
	min, max, sum  time.Duration
}

func (t *tally) record(ok bool, rtt time.Duration) {
	t.Lock()
	defer t.Unlock()

	if !ok {
		t.failed++
		return
	}
	t.passed++
	t.sum += rtt
	if t.min == 0 || rtt < t.min {
		t.min = rtt
	}
	if rtt > t.max {
		t.max = rtt
	}
}

func (t *tally) summary(tickets int) string {
	t.Lock()
	defer t.Unlock()

	total := t.passed + t.failed
	if total == 0 {
		return "No calls sent"
	}
	s := fmt.Sprintf("Success rate is %d percent (%d/%d), %d tickets left",
		t.passed*100/total, t.passed, total, tickets)
	if t.passed > 0 {
		avg := t.sum / time.Duration(t.passed)
		s += fmt.Sprintf("\nround-trip min/avg/max = %v/%v/%v",
			t.min.Round(time.Millisecond), avg.Round(time.Millisecond), t.max.Round(time.Millisecond))
	}
	return s
}

func (t *tally) style() lipgloss.Style {
	t.Lock()
	defer t.Unlock()

	total := t.passed + t.failed
	switch {
	case total == 0 || t.passed*10 >= total*9:
		return okStyle
	case t.passed*2 >= total:
		return infoStyle
	default:
		return failStyle
	}
}

type pinger struct {
	m   *session.Manager
	cfg *Config
	out io.Writer

	outMu sync.Mutex
}

func (p *pinger) printf(format string, args ...interface{}) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// ping issues one call.  An RPC error still proves the session works, so it
// counts as an answer.
func (p *pinger) ping(ctx context.Context) (bool, time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Timeout)*time.Second)
	defer cancel()

	start := time.Now()
	f, err := p.m.Call(ctx, p.cfg.Method, nil)
	var res interface{}
	if err == nil {
		res, err = f.Wait(ctx)
	}
	rtt := time.Since(start)

	switch {
	case err == nil:
		if p.cfg.Verbose {
			p.printf("\nresult: %v (%v)\n", res, rtt)
		}
		return true, rtt
	case errors.Is(err, failure.RPCError):
		if p.cfg.Verbose {
			p.printf("\nrpc error: %v (%v)\n", err, rtt)
		}
		return true, rtt
	default:
		p.printf("\nerror: %v\n", err)
		return false, rtt
	}
}

// run sends the configured number of calls, at most Concurrency at a time,
// and returns true if at least one was answered.
func (p *pinger) run(ctx context.Context) bool {
	p.printf("Control-C to abort...\n")
	p.printf("%s\n", headerStyle.Render(fmt.Sprintf("Sending %d %s calls to %s", p.cfg.Count, p.cfg.Method, p.m.Host())))

	var (
		t   tally
		wg  sync.WaitGroup
		sem = make(chan struct{}, max(p.cfg.Concurrency, 1))
	)
	for i := 0; i < p.cfg.Count && ctx.Err() == nil; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			ok, rtt := p.ping(ctx)
			t.record(ok, rtt)
			if ok {
				p.printf("%s", okStyle.Render("!"))
			} else {
				p.printf("%s", failStyle.Render("~"))
			}
		}()
	}
	wg.Wait()

	p.printf("\n%s\n", t.style().Render(t.summary(p.m.Tickets())))
	return p.cfg.Count == 0 || t.passed > 0
}
