package wx

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Result codes for operation-level outcomes. Zero and positive codes come
// from the service; negative codes are produced locally.
const (
	RetOK            = 0
	RetRequestFailed = -1000
	RetNotFound      = -1001
	RetFileMissing   = -1002
	RetServerRefused = -1003
	RetParamError    = -1005
)

// Result is the outcome of a send, upload or contact operation. Check OK
// before reading the other fields.
type Result struct {
	Ret          int
	ErrMsg       string
	MsgID        string
	LocalID      string
	MediaID      string
	ChatRoomName string
	Body         []byte
}

// OK reports success.
func (r Result) OK() bool { return r.Ret == RetOK }

// Err returns nil on success and a *ResultError otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &ResultError{Ret: r.Ret, Msg: r.ErrMsg}
}

// ResultError carries a failed Result's code and message.
type ResultError struct {
	Ret int
	Msg string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("wx: ret=%d: %s", e.Ret, e.Msg)
}

func failed(ret int, msg string) Result {
	return Result{Ret: ret, ErrMsg: msg}
}

func requestFailed(err error) Result {
	return Result{Ret: RetRequestFailed, ErrMsg: err.Error()}
}

// parseResult reads BaseResponse and the common identifier fields from a
// service JSON body.
func parseResult(body []byte) Result {
	if !gjson.ValidBytes(body) {
		return Result{Ret: RetServerRefused, ErrMsg: "unexpected response body", Body: body}
	}
	doc := gjson.ParseBytes(body)
	ret := doc.Get("BaseResponse.Ret")
	if !ret.Exists() {
		return Result{Ret: RetServerRefused, ErrMsg: "missing BaseResponse", Body: body}
	}
	return Result{
		Ret:          int(ret.Int()),
		ErrMsg:       doc.Get("BaseResponse.ErrMsg").String(),
		MsgID:        doc.Get("MsgID").String(),
		LocalID:      doc.Get("LocalID").String(),
		MediaID:      doc.Get("MediaId").String(),
		ChatRoomName: doc.Get("ChatRoomName").String(),
		Body:         body,
	}
}
