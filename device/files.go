package device

import (
	"context"

	"github.com/jangala-dev/bg-ltem-go/atcmd"
	"github.com/jangala-dev/bg-ltem-go/atresult"
	"github.com/jangala-dev/bg-ltem-go/dmode"
	"github.com/jangala-dev/bg-ltem-go/errcode"
	"github.com/jangala-dev/bg-ltem-go/x/strconvx"
)

// FileWrite pushes data to an already-open modem file handle via
// AT+QFWRITE: the command elicits a "CONNECT\r\n" trigger, after which the
// data-mode handler pushes data through the IOP, and the engine resumes
// parsing for the "+QFWRITE: <written>,<fileSize>" completion line.
func (d *Device) FileWrite(ctx context.Context, handle int, data []byte) (written, fileSize int, err error) {
	d.engine.ConfigDataMode(atcmd.DataModeConfig{
		Trigger: "CONNECT\r\n",
		Handler: dmode.DefaultTx{Src: data},
	})
	d.engine.ConfigParser("+QFWRITE: ", true, ",", 2, "\r\n", 0)

	code := d.engine.Dispatch(ctx, "AT+QFWRITE=%d,%d,1", handle, len(data))
	if !code.OK() {
		return 0, 0, &errcode.E{C: errcode.Error, Op: "FileWrite", Err: code}
	}

	writtenTok, _ := d.engine.GetToken(0)
	sizeTok, _ := d.engine.GetToken(1)
	written, _ = strconvx.Atoi(string(writtenTok))
	fileSize, _ = strconvx.Atoi(string(sizeTok))
	return written, fileSize, nil
}

// FileRead issues AT+QFREAD for an already-open handle, delivering the
// modem's length-framed payload to recv as it arrives (at most two calls,
// per the driver spec's ordering guarantee) and reports the total bytes
// actually read. readSz is always 0 on a non-success, non-partialContent
// result (driver spec §8 Open Question: "must write 0 before return on any
// error").
func (d *Device) FileRead(ctx context.Context, handle, requestSz int, recv func(chunk []byte)) (readSz int, err error) {
	var total int
	d.engine.ConfigDataMode(atcmd.DataModeConfig{
		Trigger: "CONNECT ",
		Handler: dmode.LengthFramedRx{
			ContextID: handle,
			Requested: requestSz,
			Recv: func(_ int, chunk []byte) {
				total += len(chunk)
				if recv != nil {
					recv(chunk)
				}
			},
		},
	})

	code := d.engine.Dispatch(ctx, "AT+QFREAD=%d,%d", handle, requestSz)
	if code != atresult.Success && code != atresult.PartialContent {
		return 0, &errcode.E{C: errcode.Error, Op: "FileRead", Err: code}
	}
	return total, nil
}
