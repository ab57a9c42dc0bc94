// Package bridge drives the NXP SC16IS7xx SPI-to-UART bridge that sits
// between the host and the cellular modem's UART: register-level FIFO
// level reads, bulk FIFO read/write, IIR decode, FIFO reset, and IRQ mode
// enable. It does not buffer beyond the hardware FIFO (driver spec §4.2).
package bridge

import (
	"errors"
)

// Register addresses (SC16IS7xx general register set, channel A).
const (
	RegRHR   byte = 0x00 // receive holding register (read)
	RegTHR   byte = 0x00 // transmit holding register (write)
	RegIER   byte = 0x01
	RegFCR   byte = 0x02 // FIFO control (write)
	RegIIR   byte = 0x02 // interrupt identification (read)
	RegLCR   byte = 0x03
	RegMCR   byte = 0x04
	RegLSR   byte = 0x05
	RegMSR   byte = 0x06
	RegTXLVL byte = 0x08
	RegRXLVL byte = 0x09
	RegIOCtl byte = 0x0E
)

// FCR bits.
const (
	FCRFIFOEnable byte = 1 << 0
	FCRRxReset    byte = 1 << 1
	FCRTxReset    byte = 1 << 2
)

// IER bits.
const (
	IERRxData byte = 1 << 0
	IERThrEmp byte = 1 << 1
	IERLine   byte = 1 << 2
)

// Cause is the decoded IIR interrupt source, in the priority order the IOP
// must service them (driver spec §4.3).
type Cause int

const (
	CauseNone Cause = iota
	CauseLineStatus
	CauseRxAvailable
	CauseRxTimeout
	CauseTxThreshold
)

// iirSource values as encoded in IIR bits 5:1 on the SC16IS7xx.
const (
	iirSrcTxThreshold byte = 0x1
	iirSrcRxAvailable byte = 0x2
	iirSrcLineStatus  byte = 0x3
	iirSrcRxTimeout   byte = 0x6
)

// FIFOCapacity is the compile-time hardware FIFO depth; the driver never
// buffers beyond it (driver spec §4.2).
const FIFOCapacity = 64

// ResetMask selects which FIFO(s) ResetFIFO clears.
type ResetMask int

const (
	ResetRx ResetMask = 1 << iota
	ResetTx
)

var ErrUnavailable = errors.New("bridge: device not available")

// RegisterIO is the minimal SPI-shaped transfer the bridge needs: write w,
// read back len(r) bytes, selecting direction and register address as the
// first byte(s) of w per the SC16IS7xx SPI framing (bit7 = read/write,
// bits 6:3 = register). Implementations wrap a machine.SPI peripheral on a
// microcontroller build, or an in-memory fake in tests.
type RegisterIO interface {
	Tx(w, r []byte) error
}

// Driver is a register-level client of one SC16IS7xx bridge channel.
type Driver struct {
	io        RegisterIO
	available func() bool
}

// New wraps io as a bridge Driver. available, if non-nil, lets the caller
// report hardware presence (e.g. a CS/IRQ sanity probe); nil means always
// available.
func New(io RegisterIO, available func() bool) *Driver {
	return &Driver{io: io, available: available}
}

func (d *Driver) IsAvailable() bool {
	if d.available == nil {
		return true
	}
	return d.available()
}

func addrByte(reg byte, read bool) byte {
	b := reg << 3
	if read {
		b |= 0x80
	}
	return b
}

// ReadReg reads a single register.
func (d *Driver) ReadReg(reg byte) (byte, error) {
	if !d.IsAvailable() {
		return 0, ErrUnavailable
	}
	w := []byte{addrByte(reg, true), 0x00}
	r := make([]byte, 2)
	if err := d.io.Tx(w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

// WriteReg writes a single register.
func (d *Driver) WriteReg(reg, val byte) error {
	if !d.IsAvailable() {
		return ErrUnavailable
	}
	w := []byte{addrByte(reg, false), val}
	return d.io.Tx(w, make([]byte, 2))
}

// Read bulk-reads up to len(dst) bytes from the RX FIFO (RHR), returning
// the number of bytes actually transferred.
func (d *Driver) Read(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if !d.IsAvailable() {
		return 0, ErrUnavailable
	}
	w := make([]byte, len(dst)+1)
	w[0] = addrByte(RegRHR, true)
	r := make([]byte, len(w))
	if err := d.io.Tx(w, r); err != nil {
		return 0, err
	}
	copy(dst, r[1:])
	return len(dst), nil
}

// Write bulk-writes up to len(src) bytes into the TX FIFO (THR), returning
// the number of bytes actually transferred.
func (d *Driver) Write(src []byte) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	if !d.IsAvailable() {
		return 0, ErrUnavailable
	}
	w := make([]byte, len(src)+1)
	w[0] = addrByte(RegTHR, false)
	copy(w[1:], src)
	r := make([]byte, len(w))
	if err := d.io.Tx(w, r); err != nil {
		return 0, err
	}
	return len(src), nil
}

// TxLevel reads how many free bytes remain in the TX FIFO.
func (d *Driver) TxLevel() (int, error) {
	v, err := d.ReadReg(RegTXLVL)
	return int(v), err
}

// RxLevel reads how many bytes are waiting in the RX FIFO.
func (d *Driver) RxLevel() (int, error) {
	v, err := d.ReadReg(RegRXLVL)
	return int(v), err
}

// LineStatus reads LSR (for logging/recovery on a line-status error).
func (d *Driver) LineStatus() (byte, error) {
	return d.ReadReg(RegLSR)
}

// ResetFIFO clears the selected FIFO(s). The bridge's own FIFO-enable bit
// is preserved.
func (d *Driver) ResetFIFO(mask ResetMask) error {
	var v byte = FCRFIFOEnable
	if mask&ResetRx != 0 {
		v |= FCRRxReset
	}
	if mask&ResetTx != 0 {
		v |= FCRTxReset
	}
	return d.WriteReg(RegFCR, v)
}

// EnableIRQMode enables RX-data, RX-timeout and THR-empty interrupt
// sources, and ensures the FIFO is enabled.
func (d *Driver) EnableIRQMode() error {
	if err := d.WriteReg(RegFCR, FCRFIFOEnable); err != nil {
		return err
	}
	return d.WriteReg(RegIER, IERRxData|IERThrEmp|IERLine)
}

// DecodeIIR reads and decodes the interrupt identification register.
// pending is false when bit0 (active-low pending flag) reports no interrupt
// pending.
func (d *Driver) DecodeIIR() (cause Cause, pending bool, err error) {
	v, err := d.ReadReg(RegIIR)
	if err != nil {
		return CauseNone, false, err
	}
	if v&0x01 != 0 {
		return CauseNone, false, nil // active-low: bit set => nothing pending
	}
	switch (v >> 1) & 0x1F {
	case iirSrcLineStatus:
		cause = CauseLineStatus
	case iirSrcRxAvailable:
		cause = CauseRxAvailable
	case iirSrcRxTimeout:
		cause = CauseRxTimeout
	case iirSrcTxThreshold:
		cause = CauseTxThreshold
	default:
		cause = CauseNone
	}
	return cause, true, nil
}
