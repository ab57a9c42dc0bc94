// Package iop implements the I/O processor: the interrupt-driven byte pump
// between the bridge driver's hardware FIFOs and the shared RX ring. It owns
// the RX ring exclusively and the current TX source pointer, binds to the
// bridge's IRQ pin, and services the ISR queue in priority order (line
// status, RX data, TX threshold), mirroring the ISR-worker idiom: a small,
// never-blocking ISR handler feeds a buffered channel that a single
// goroutine drains.
package iop

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jangala-dev/bg-ltem-go/bridge"
	"github.com/jangala-dev/bg-ltem-go/ring"
	"github.com/jangala-dev/bg-ltem-go/x/timex"
)

// IRQPin is the subset of a GPIO interrupt pin the IOP needs to bind its
// service loop to the bridge's falling-edge interrupt line.
type IRQPin interface {
	Get() bool // current electrical level (for the post-service line re-check)
	SetIRQ(handler func()) error
	ClearIRQ() error
}

// maxServiceRounds bounds the ISR retry loop against a wedged IIR.
const maxServiceRounds = 60

// rxOverflowThresholdNum/Den express "RXLVL must fall below 1/4 FIFO after a
// drain" as an integer fraction, avoiding float math in the hot path.
const (
	rxOverflowThresholdNum = 1
	rxOverflowThresholdDen = 4
)

// Processor is the IOP: it owns the RX ring and the TX staging state, and
// runs the ISR-equivalent service loop as a dedicated goroutine triggered by
// IRQ edges (or by an explicit Kick, e.g. in tests or a polled fallback).
type Processor struct {
	bridge *bridge.Driver
	rx     *ring.Ring

	pin      IRQPin
	irqCh    chan struct{}
	drops    atomic.Uint32
	overflow atomic.Uint32

	mu        sync.Mutex // serializes start_tx/force_tx against the ISR's TX refill
	txSrc     []byte
	txPending int

	lastRxAt atomic.Int64

	onLineError func(lsr byte) // optional hook, e.g. for logging/notification
	onOverflow  func()        // optional hook, invoked each time RxOverflowCount advances

	stopped chan struct{}
}

// New constructs an IOP over the given bridge driver and RX ring. bufSz
// bounds the IRQ-signal channel depth (ISR sends are non-blocking and drop
// on overflow, counted by IRQDrops).
func New(b *bridge.Driver, rx *ring.Ring, bufSz int) *Processor {
	if bufSz <= 0 {
		bufSz = 8
	}
	return &Processor{
		bridge: b,
		rx:     rx,
		irqCh:  make(chan struct{}, bufSz),
	}
}

// SetLineErrorHook installs a callback invoked (from the service goroutine,
// never from the ISR) whenever a line-status error is serviced.
func (p *Processor) SetLineErrorHook(fn func(lsr byte)) { p.onLineError = fn }

// SetOverflowHook installs a callback invoked (from the service goroutine)
// each time a drain round leaves RXLVL at or above the overflow threshold,
// i.e. each time RxOverflowCount advances.
func (p *Processor) SetOverflowHook(fn func()) { p.onOverflow = fn }

// AttachIRQ binds the ISR handler to pin's falling-edge interrupt and starts
// the service goroutine. The handler itself only performs a non-blocking
// channel send, matching the ISR-safe-send discipline: no register I/O, no
// blocking, happens on the interrupt pin's own call stack.
func (p *Processor) AttachIRQ(ctx context.Context, pin IRQPin) error {
	p.pin = pin
	p.stopped = make(chan struct{})

	handler := func() {
		select {
		case p.irqCh <- struct{}{}:
		default:
			p.drops.Add(1)
		}
	}
	if err := pin.SetIRQ(handler); err != nil {
		return err
	}

	go p.run(ctx)
	return nil
}

// DetachIRQ clears the interrupt binding. The service goroutine exits once
// ctx (passed to AttachIRQ) is done.
func (p *Processor) DetachIRQ() error {
	if p.pin == nil {
		return nil
	}
	return p.pin.ClearIRQ()
}

// Kick signals the service loop as if an IRQ fired; used by polled transports
// and tests that have no real interrupt pin.
func (p *Processor) Kick() {
	select {
	case p.irqCh <- struct{}{}:
	default:
		p.drops.Add(1)
	}
}

// IRQDrops reports how many ISR signals were dropped because the channel was
// full (the service loop was already behind).
func (p *Processor) IRQDrops() uint32 { return p.drops.Load() }

// RxOverflowCount reports how many times a drain round left RXLVL at or
// above 1/4 FIFO capacity, signalling sustained overflow risk.
func (p *Processor) RxOverflowCount() uint32 { return p.overflow.Load() }

func (p *Processor) run(ctx context.Context) {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.irqCh:
			p.service()
		}
	}
}

// service runs the ISR-equivalent priority loop: line status, then RX data,
// then TX threshold, re-reading the IIR until both it and the IRQ line agree
// there is nothing left pending.
func (p *Processor) service() {
	for round := 0; round < maxServiceRounds; round++ {
		cause, pending, err := p.bridge.DecodeIIR()
		if err != nil || !pending {
			if p.pin != nil && p.pin.Get() {
				continue // line still asserted: spurious read or race, restart
			}
			return
		}

		switch cause {
		case bridge.CauseLineStatus:
			p.serviceLineStatus()
		case bridge.CauseRxAvailable, bridge.CauseRxTimeout:
			p.serviceRxData()
		case bridge.CauseTxThreshold:
			p.serviceTxThreshold()
		default:
			return
		}
	}
}

func (p *Processor) serviceLineStatus() {
	lsr, _ := p.bridge.LineStatus()
	if p.onLineError != nil {
		p.onLineError(lsr)
	}
	_ = p.bridge.ResetFIFO(bridge.ResetRx | bridge.ResetTx)
	p.rx.Reset()
	p.mu.Lock()
	p.txSrc, p.txPending = nil, 0
	p.mu.Unlock()
}

func (p *Processor) serviceRxData() {
	lvl, err := p.bridge.RxLevel()
	if err != nil || lvl <= 0 {
		return
	}
	remaining := lvl
	for remaining > 0 {
		block := p.rx.PushBlock(remaining)
		if len(block) == 0 {
			p.rx.FinalizePush(0)
			break
		}
		n, err := p.bridge.Read(block)
		p.rx.FinalizePush(n)
		if err != nil {
			break
		}
		remaining -= n
		if n < len(block) {
			break // short transfer: bridge had nothing more ready right now
		}
	}
	p.lastRxAt.Store(timex.NowMs())

	if after, err := p.bridge.RxLevel(); err == nil {
		if after*rxOverflowThresholdDen >= bridge.FIFOCapacity*rxOverflowThresholdNum {
			p.overflow.Add(1)
			if p.onOverflow != nil {
				p.onOverflow()
			}
		}
	}
}

func (p *Processor) serviceTxThreshold() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.txPending <= 0 {
		return
	}
	lvl, err := p.bridge.TxLevel()
	if err != nil || lvl <= 0 {
		return
	}
	n := p.txPending
	if lvl < n {
		n = lvl
	}
	written, err := p.bridge.Write(p.txSrc[:n])
	if err != nil {
		return
	}
	p.txSrc = p.txSrc[written:]
	p.txPending -= written
}

// StartTx hands src to the IOP for transmission. Only valid when the TX FIFO
// is idle; writes up to the FIFO capacity immediately and stashes any
// remainder for the ISR to drain on subsequent TX-threshold interrupts. The
// caller must not mutate or free src until TxPending() reaches 0.
func (p *Processor) StartTx(src []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lvl, err := p.bridge.TxLevel()
	if err != nil {
		return 0, err
	}
	if lvl < bridge.FIFOCapacity {
		return 0, errNotIdle
	}

	n := len(src)
	if n > bridge.FIFOCapacity {
		n = bridge.FIFOCapacity
	}
	written, err := p.bridge.Write(src[:n])
	if err != nil {
		return 0, err
	}
	p.txSrc = src[written:]
	p.txPending = len(src) - written
	return written, nil
}

// ForceTx resets the TX FIFO and writes n bytes immediately, for break or
// attention sequences during error recovery. n must not exceed FIFO
// capacity.
func (p *Processor) ForceTx(src []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(src) > bridge.FIFOCapacity {
		return 0, errTooLarge
	}
	if err := p.bridge.ResetFIFO(bridge.ResetTx); err != nil {
		return 0, err
	}
	written, err := p.bridge.Write(src)
	if err != nil {
		return 0, err
	}
	p.txSrc = src[written:]
	p.txPending = len(src) - written
	return written, nil
}

// TxPending reports the number of bytes still owned by a prior StartTx/
// ForceTx call that the ISR has not yet drained.
func (p *Processor) TxPending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txPending
}

// ResetRxBuffer empties the RX ring, e.g. after a protocol desync.
func (p *Processor) ResetRxBuffer() { p.rx.Reset() }

// RxIdleDuration returns milliseconds since the last RX drain, or -1 if no
// data has ever been received.
func (p *Processor) RxIdleDuration() int64 {
	last := p.lastRxAt.Load()
	if last == 0 {
		return -1
	}
	return timex.NowMs() - last
}

type ioErr string

func (e ioErr) Error() string { return string(e) }

const (
	errNotIdle  ioErr = "iop: tx fifo not idle"
	errTooLarge ioErr = "iop: payload exceeds fifo capacity"
)
