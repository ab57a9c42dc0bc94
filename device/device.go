// Package device is the driver's facade: it wires the bridge, IOP, AT-command
// engine, stream registry/event manager, operator client and notification bus
// into the lifecycle the rest of an application drives (create/start/stop/
// reset/device_state), mirroring the teacher's services/bridge facade shape
// of one constructor plus a small set of lifecycle and status methods over an
// otherwise internal subsystem graph.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/jangala-dev/bg-ltem-go/atcmd"
	"github.com/jangala-dev/bg-ltem-go/atresult"
	"github.com/jangala-dev/bg-ltem-go/bridge"
	"github.com/jangala-dev/bg-ltem-go/errcode"
	"github.com/jangala-dev/bg-ltem-go/iop"
	"github.com/jangala-dev/bg-ltem-go/notify"
	"github.com/jangala-dev/bg-ltem-go/operator"
	"github.com/jangala-dev/bg-ltem-go/ring"
	"github.com/jangala-dev/bg-ltem-go/streams"
	"github.com/jangala-dev/bg-ltem-go/types"
)

// GPIOPin is the subset of the teacher's halcore.GPIOPin the device facade
// needs for the RESET/POWERKEY/power-sense lines.
type GPIOPin interface {
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
}

// PowerState is the device's tri-state lifecycle position.
type PowerState int

const (
	PowerOff PowerState = iota
	PowerOn
	AppReady
)

func (s PowerState) String() string {
	switch s {
	case PowerOn:
		return "powerOn"
	case AppReady:
		return "appReady"
	default:
		return "powerOff"
	}
}

// ResetAction selects how Start brings the modem up.
type ResetAction int

const (
	ResetSkipIfOn ResetAction = iota
	ResetSoftware
	ResetHardware
	ResetPowerCycle
)

const (
	defaultRingCapacity   = 2048
	defaultIRQQueueDepth  = 8
	defaultStartupTimeout = 8 * time.Second
	defaultOperatorWait   = 15 * time.Second
	appRdyLandmark        = "APP RDY"
	hwResetPulse          = 200 * time.Millisecond
	powerKeyPulse         = 600 * time.Millisecond
	powerCycleSettle      = 2 * time.Second
	pollAppRdyInterval    = 20 * time.Millisecond
)

// Config wires a Device to its pins, transport, and policy knobs. Only SPI
// and IRQPin are required; everything else defaults.
type Config struct {
	SPI             bridge.RegisterIO
	BridgeAvailable func() bool // optional hardware-presence probe

	IRQPin iop.IRQPin

	ResetPin      GPIOPin // hardware RESET line, nil disables ResetHardware
	PowerKeyPin   GPIOPin // POWERKEY line, nil disables ResetPowerCycle/Stop's power-off pulse
	PowerSensePin GPIOPin // optional; nil means "assume powered whenever Start succeeds"

	RingCapacity  int
	IRQQueueDepth int

	StartupTimeout     time.Duration
	OperatorAttachWait time.Duration

	SerialFormat types.SerialSetFormat
	BaudRate     uint32

	DebugUART *DebugUARTConfig // nil disables the secondary debug UART

	Notify *notify.Bus // nil disables notify_app
}

func (c *Config) applyDefaults() {
	if c.RingCapacity <= 0 {
		c.RingCapacity = defaultRingCapacity
	}
	if c.IRQQueueDepth <= 0 {
		c.IRQQueueDepth = defaultIRQQueueDepth
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.OperatorAttachWait <= 0 {
		c.OperatorAttachWait = defaultOperatorWait
	}
}

// Device is the driver's single entry point: one bridge, one ring, one IOP,
// one AT-command engine, one stream registry/event manager, one operator
// client.
type Device struct {
	cfg Config

	bridge   *bridge.Driver
	rx       *ring.Ring
	iop      *iop.Processor
	engine   *atcmd.Engine
	reg      *streams.Registry
	events   *streams.EventManager
	operator *operator.Client
	notify   *notify.Bus
	debugRx  DebugUART

	mu        sync.Mutex
	state     PowerState
	runCancel context.CancelFunc
}

// Create validates cfg and wires the subsystem graph. It performs no I/O:
// nothing is powered on until Start is called.
func Create(cfg Config) (*Device, error) {
	if cfg.SPI == nil {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "Create", Msg: "SPI is required"}
	}
	if cfg.IRQPin == nil {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "Create", Msg: "IRQPin is required"}
	}
	cfg.applyDefaults()

	d := &Device{cfg: cfg, state: PowerOff}
	d.bridge = bridge.New(cfg.SPI, cfg.BridgeAvailable)
	d.rx = ring.New(cfg.RingCapacity)
	d.iop = iop.New(d.bridge, d.rx, cfg.IRQQueueDepth)
	d.engine = atcmd.New(d.iop, d.rx)
	d.reg = streams.New()
	d.events = streams.NewEventManager(d.reg)
	d.operator = operator.New(d.engine)
	d.notify = cfg.Notify

	if cfg.DebugUART != nil {
		uart, err := DialDebugUART(*cfg.DebugUART)
		if err != nil {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "Create", Msg: "debug uart", Err: err}
		}
		d.debugRx = uart
	}

	d.iop.SetLineErrorHook(func(lsr byte) {
		d.notifyApp(notify.KindFault, "bridge line status error")
	})
	d.iop.SetOverflowHook(func() {
		d.notifyApp(notify.KindWarn, "rx fifo sustained overflow risk")
	})

	return d, nil
}

func (d *Device) notifyApp(kind notify.Kind, msg string) {
	if d.notify != nil {
		d.notify.NotifyApp(kind, msg)
	}
}

// Start brings the modem up per action and leaves the device in AppReady on
// success (driver spec §4.7).
func (d *Device) Start(ctx context.Context, action ResetAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if action == ResetSkipIfOn && d.state != PowerOff {
		return nil
	}
	if err := d.performResetLocked(action); err != nil {
		return err
	}

	if !d.bridge.IsAvailable() {
		return &errcode.E{C: errcode.BridgeUnavailable, Op: "Start"}
	}
	if err := d.bridge.EnableIRQMode(); err != nil {
		return &errcode.E{C: errcode.BridgeUnavailable, Op: "Start", Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := d.iop.AttachIRQ(runCtx, d.cfg.IRQPin); err != nil {
		cancel()
		return &errcode.E{C: errcode.BridgeUnavailable, Op: "Start", Msg: "attach irq", Err: err}
	}
	d.runCancel = cancel
	d.state = PowerOn

	if !d.waitAppRdy(ctx) {
		d.notifyApp(notify.KindFault, "APP RDY not observed before deadline")
		return &errcode.E{C: errcode.Error, Op: "Start", Msg: "APP RDY deadline exceeded"}
	}

	if err := d.runStartupScript(ctx); err != nil {
		return err
	}

	d.state = AppReady
	d.notifyApp(notify.KindInfo, "device app ready")

	attachCtx, attachCancel := context.WithTimeout(ctx, d.cfg.OperatorAttachWait)
	defer attachCancel()
	d.operator.Await(attachCtx, d.cfg.OperatorAttachWait)

	return nil
}

// performResetLocked executes the reset variant the caller selected. Called
// with d.mu held.
func (d *Device) performResetLocked(action ResetAction) error {
	switch action {
	case ResetSkipIfOn:
		return nil
	case ResetSoftware:
		if d.state == PowerOff {
			return d.powerOnLocked()
		}
		// A modem that is already running is left as it is: no reset
		// command is sent, here or by the startup script.
		return nil
	case ResetHardware:
		if d.cfg.ResetPin == nil {
			return &errcode.E{C: errcode.InvalidConfig, Op: "Start", Msg: "hardware reset requires ResetPin"}
		}
		if err := d.powerOnLocked(); err != nil {
			return err
		}
		d.cfg.ResetPin.Set(true)
		time.Sleep(hwResetPulse)
		d.cfg.ResetPin.Set(false)
		return nil
	case ResetPowerCycle:
		if d.cfg.PowerKeyPin == nil {
			return &errcode.E{C: errcode.InvalidConfig, Op: "Start", Msg: "power cycle requires PowerKeyPin"}
		}
		if d.state != PowerOff {
			d.pulsePowerKeyLocked()
			time.Sleep(powerCycleSettle)
		}
		d.pulsePowerKeyLocked()
		d.state = PowerOn
		return nil
	default:
		return &errcode.E{C: errcode.InvalidConfig, Op: "Start", Msg: "unknown reset action"}
	}
}

func (d *Device) powerOnLocked() error {
	if d.cfg.PowerKeyPin != nil && d.state == PowerOff {
		d.pulsePowerKeyLocked()
	}
	d.state = PowerOn
	return nil
}

func (d *Device) pulsePowerKeyLocked() {
	d.cfg.PowerKeyPin.Set(true)
	time.Sleep(powerKeyPulse)
	d.cfg.PowerKeyPin.Set(false)
}

// waitAppRdy polls the RX ring for the "APP RDY" landmark within
// StartupTimeout.
func (d *Device) waitAppRdy(ctx context.Context) bool {
	deadline := time.Now().Add(d.cfg.StartupTimeout)
	ticker := time.NewTicker(pollAppRdyInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if d.rx.Find([]byte(appRdyLandmark), 0, 0, false) != ring.NotFound {
			d.rx.Reset()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-d.rx.Readable():
		case <-ticker.C:
		}
	}
	return false
}

// runStartupScript disables echo and routes URCs to uart1, leaving the engine
// idle and ready for application traffic. It does not send the configured
// serial format or baud rate to the modem.
func (d *Device) runStartupScript(ctx context.Context) error {
	if code := d.engine.Dispatch(ctx, "ATE0"); !code.OK() {
		return &errcode.E{C: errcode.Error, Op: "Start", Msg: "ATE0 failed", Err: code}
	}
	if code := d.engine.Dispatch(ctx, "AT+QURCCFG=\"urcport\",\"uart1\""); !code.OK() && code != atresult.PreConditionFailed {
		// Not every modem variant accepts this option; a preConditionFailed
		// here is expected, anything else is surfaced as a startup fault.
		return &errcode.E{C: errcode.Error, Op: "Start", Msg: "URC routing failed", Err: code}
	}
	return nil
}

// Stop powers the modem down: detach the IRQ, stop the service goroutine,
// and toggle POWERKEY off.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == PowerOff {
		return &errcode.E{C: errcode.NotStarted, Op: "Stop"}
	}
	if d.runCancel != nil {
		_ = d.iop.DetachIRQ()
		d.runCancel()
		d.runCancel = nil
	}
	if d.cfg.PowerKeyPin != nil {
		d.pulsePowerKeyLocked()
	}
	d.state = PowerOff
	d.notifyApp(notify.KindInfo, "device stopped")
	return nil
}

// Reset forwards to Start with ResetSoftware or ResetHardware depending on
// hard, per driver spec §4.7.
func (d *Device) Reset(ctx context.Context, hard bool) error {
	action := ResetSoftware
	if hard {
		action = ResetHardware
	}
	return d.Start(ctx, action)
}

// DeviceState reports the tri-state lifecycle position: power-off if the
// power-sense pin reads low, else the greater of the stored state and
// PowerOn. Without a power-sense pin it reports the stored state.
func (d *Device) DeviceState() PowerState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.PowerSensePin == nil {
		return d.state
	}
	if !d.cfg.PowerSensePin.Get() {
		return PowerOff
	}
	if d.state < PowerOn {
		return PowerOn
	}
	return d.state
}

// Ping issues a bare AT and reports whether the modem answered OK.
func (d *Device) Ping(ctx context.Context) error {
	if code := d.engine.Dispatch(ctx, "AT"); !code.OK() {
		return &errcode.E{C: errcode.Error, Op: "Ping", Err: code}
	}
	return nil
}

// IsSIMReady reports whether AT+CPIN? answers READY.
func (d *Device) IsSIMReady(ctx context.Context) (bool, error) {
	d.engine.ConfigParser("+CPIN: ", true, "", 1, "\r\n", 0)
	code := d.engine.Dispatch(ctx, "AT+CPIN?")
	if !code.OK() {
		return false, &errcode.E{C: errcode.Error, Op: "IsSIMReady", Err: code}
	}
	tok, ok := d.engine.GetToken(0)
	return ok && string(tok) == "READY", nil
}

// ModemInfo issues ATI and returns the modem's identification text, trimmed
// of its trailing status line.
func (d *Device) ModemInfo(ctx context.Context) (string, error) {
	d.engine.OverrideParser(atcmd.StandardParser{Terminator: "OK\r\n", MinTokens: 0})
	code := d.engine.Dispatch(ctx, "ATI")
	if !code.OK() {
		return "", &errcode.E{C: errcode.Error, Op: "ModemInfo", Err: code}
	}
	return string(d.engine.GetRawResponse()), nil
}

// Engine exposes the AT-command engine for host API pass-through calls
// (dispatch/try_invoke/await_result/close/override_*/config_*).
func (d *Device) Engine() *atcmd.Engine { return d.engine }

// IOP exposes the I/O processor for start_tx/force_tx/reset_rx_buffer/
// rx_idle_duration pass-through calls.
func (d *Device) IOP() *iop.Processor { return d.iop }

// Streams exposes the stream registry for add_stream/delete_stream/
// get_stream pass-through calls.
func (d *Device) Streams() *streams.Registry { return d.reg }

// PollEvents runs one event_mgr pass over the RX ring, dispatching any
// pending URC to its claiming stream.
func (d *Device) PollEvents() bool { return d.events.Poll(d.rx) }

// Operator exposes the operator-attach client for a fresh await_operator
// call outside of Start's own brief attempt.
func (d *Device) Operator() *operator.Client { return d.operator }
