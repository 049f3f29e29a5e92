package wx

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Outgoing message type codes.
const (
	MsgTypeText     = 1
	MsgTypeImage    = 3
	MsgTypeApp      = 6
	MsgTypeVideo    = 43
	MsgTypeEmoticon = 47
)

const appMsgID = "wxeb7ec651dd0aefa9"

func localID() string {
	return strconv.FormatInt(time.Now().UnixNano()/100, 10)
}

func (c *Client) sendMsg(ctx context.Context, endpoint string, params url.Values, msg map[string]any) Result {
	s := c.Session()
	id := localID()
	msg["FromUserName"] = s.UserName
	if to, _ := msg["ToUserName"].(string); to == "" {
		msg["ToUserName"] = s.UserName
	}
	msg["LocalID"] = id
	msg["ClientMsgId"] = id
	if params == nil {
		params = url.Values{}
	}
	params.Set("pass_ticket", s.PassTicket)
	res := c.call(ctx, s.BaseURL+endpoint, params, map[string]any{
		"BaseRequest": s.baseRequest(),
		"Msg":         msg,
		"Scene":       0,
	})
	if res.LocalID == "" && res.OK() {
		res.LocalID = id
	}
	return res
}

// SendRaw sends a message of any type with literal content.
func (c *Client) SendRaw(ctx context.Context, msgType int, content, toUserName string) Result {
	return c.sendMsg(ctx, "/webwxsendmsg", nil, map[string]any{
		"Type":       msgType,
		"Content":    content,
		"ToUserName": toUserName,
	})
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, text, toUserName string) Result {
	return c.SendRaw(ctx, MsgTypeText, text, toUserName)
}

// ensureUploaded returns the media handle, uploading m when it has none.
func (c *Client) ensureUploaded(ctx context.Context, m Media, toUserName string, mt MediaType) (string, Result) {
	if m.MediaID != "" {
		return m.MediaID, Result{}
	}
	res := c.UploadMedia(ctx, UploadRequest{
		FileName:   m.FileName,
		Data:       m.Data,
		ToUserName: toUserName,
		MediaType:  mt,
	})
	return res.MediaID, res
}

// SendImage sends a picture. GIFs go through the emoticon endpoint.
func (c *Client) SendImage(ctx context.Context, m Media, toUserName string) Result {
	gif := strings.EqualFold(filepath.Ext(m.FileName), ".gif")
	mt := MediaPicture
	if gif {
		mt = MediaDocument
	}
	mediaID, res := c.ensureUploaded(ctx, m, toUserName, mt)
	if !res.OK() {
		return res
	}
	if gif {
		return c.sendMsg(ctx, "/webwxsendemoticon", url.Values{"fun": {"sys"}}, map[string]any{
			"Type":       MsgTypeEmoticon,
			"MediaId":    mediaID,
			"EmojiFlag":  2,
			"ToUserName": toUserName,
		})
	}
	return c.sendMsg(ctx, "/webwxsendmsgimg", url.Values{"fun": {"async"}, "f": {"json"}}, map[string]any{
		"Type":       MsgTypeImage,
		"MediaId":    mediaID,
		"ToUserName": toUserName,
	})
}

// SendVideo sends a video.
func (c *Client) SendVideo(ctx context.Context, m Media, toUserName string) Result {
	mediaID, res := c.ensureUploaded(ctx, m, toUserName, MediaVideo)
	if !res.OK() {
		return res
	}
	return c.sendMsg(ctx, "/webwxsendvideomsg", url.Values{"fun": {"async"}, "f": {"json"}}, map[string]any{
		"Type":       MsgTypeVideo,
		"MediaId":    mediaID,
		"ToUserName": toUserName,
	})
}

// SendFile sends an attachment as an app message.
func (c *Client) SendFile(ctx context.Context, m Media, toUserName string) Result {
	mediaID, res := c.ensureUploaded(ctx, m, toUserName, MediaDocument)
	if !res.OK() {
		return res
	}
	ext := strings.TrimPrefix(filepath.Ext(m.FileName), ".")
	content := fmt.Sprintf("<appmsg appid='%s' sdkver=''><title>%s</title>"+
		"<des></des><action></action><type>6</type><content></content><url></url><lowurl></lowurl>"+
		"<appattach><totallen>%d</totallen><attachid>%s</attachid>"+
		"<fileext>%s</fileext></appattach><extinfo></extinfo></appmsg>",
		appMsgID, html.EscapeString(m.FileName), len(m.Data), mediaID, ext)
	return c.sendMsg(ctx, "/webwxsendappmsg", url.Values{"fun": {"async"}, "f": {"json"}}, map[string]any{
		"Type":       MsgTypeApp,
		"Content":    content,
		"ToUserName": toUserName,
	})
}

// Send dispatches on a content prefix: "@fil@", "@img@", "@vid@" name a
// local file and "@msg@" or no prefix is text.
func (c *Client) Send(ctx context.Context, content, toUserName string) Result {
	if content == "" {
		return failed(RetParamError, "empty content")
	}
	if len(content) < 5 || content[0] != '@' || content[4] != '@' {
		return c.SendText(ctx, content, toUserName)
	}
	prefix, rest := content[:5], content[5:]
	var send func(context.Context, Media, string) Result
	switch prefix {
	case "@fil@":
		send = c.SendFile
	case "@img@":
		send = c.SendImage
	case "@vid@":
		send = c.SendVideo
	case "@msg@":
		return c.SendText(ctx, rest, toUserName)
	default:
		return c.SendText(ctx, content, toUserName)
	}
	m, res := LoadMedia(rest)
	if !res.OK() {
		c.logger.Warn("send file missing", zap.String("path", rest))
		return res
	}
	return send(ctx, m, toUserName)
}

// Revoke withdraws a sent message.
func (c *Client) Revoke(ctx context.Context, msgID, toUserName, clientMsgID string) Result {
	s := c.Session()
	if clientMsgID == "" {
		clientMsgID = itoa(nowMillis())
	}
	return c.call(ctx, s.BaseURL+"/webwxrevokemsg", nil, map[string]any{
		"BaseRequest": s.baseRequest(),
		"ClientMsgId": clientMsgID,
		"SvrMsgId":    msgID,
		"ToUserName":  toUserName,
	})
}
