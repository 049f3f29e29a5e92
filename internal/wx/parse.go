package wx

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Regex adapters for the HTML/JS/XML fragments the service returns. Nothing
// outside this file parses raw bodies with regular expressions.
var (
	qrUUIDRe     = regexp.MustCompile(`window.QRLogin.code = (\d+); window.QRLogin.uuid = "(\S+?)";`)
	loginCodeRe  = regexp.MustCompile(`window.code=(\d+)`)
	redirectRe   = regexp.MustCompile(`window.redirect_uri="(\S+)";`)
	skeyRe       = regexp.MustCompile(`(?s)<skey>(.*?)</skey>`)
	passTicketRe = regexp.MustCompile(`(?s)<pass_ticket>(.*?)</pass_ticket>`)
	wxsidRe      = regexp.MustCompile(`(?s)<wxsid>(.*?)</wxsid>`)
	wxuinRe      = regexp.MustCompile(`(?s)<wxuin>(.*?)</wxuin>`)
	messageRe    = regexp.MustCompile(`(?s)<message>(.*?)</message>`)
	syncCheckRe  = regexp.MustCompile(`window.synccheck=\{retcode:"(\d+)",selector:"(\d+)"\}`)
	emojiRe      = regexp.MustCompile(`<span class="emoji emoji([0-9a-fA-F]+)"></span>`)
	uinListRe    = regexp.MustCompile(`<username>([^<]*?)<`)
	mapLabelRe   = regexp.MustCompile(`(.+?\(.+?\))`)
	cdataPairRe  = regexp.MustCompile(`\[CDATA\[(.+?)\][\s\S]+?\[CDATA\[(.+?)\]`)
	cdataRe      = regexp.MustCompile(`\[CDATA\[(.+?)\]\]`)
	groupMsgRe   = regexp.MustCompile(`(?s)^(@[0-9a-z]*?):<br/>(.*)$`)
)

func parseQRUUID(body string) (code, uuid string) {
	m := qrUUIDRe.FindStringSubmatch(body)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

func parseLoginCode(body string) string {
	m := loginCodeRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

func parseRedirect(body string) string {
	m := redirectRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

func firstGroup(re *regexp.Regexp, body string) string {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

func parseSyncCheck(body string) (retcode, selector string, ok bool) {
	m := syncCheckRe.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ParseUINList extracts the comma-separated uin list from a status-notify
// (type 51) message body.
func ParseUINList(content string) []string {
	m := uinListRe.FindStringSubmatch(content)
	if m == nil || m[1] == "" {
		return nil
	}
	return strings.Split(m[1], ",")
}

// FormatEmoji replaces the service's emoji spans with the code points they
// encode.
func FormatEmoji(s string) string {
	if !strings.Contains(s, "emoji") {
		return s
	}
	return emojiRe.ReplaceAllStringFunc(s, func(span string) string {
		hex := emojiRe.FindStringSubmatch(span)[1]
		return decodeEmojiHex(hex)
	})
}

func decodeEmojiHex(hex string) string {
	if v, err := strconv.ParseUint(hex, 16, 32); err == nil && v <= 0x10FFFF {
		return string(rune(v))
	}
	// Pairs such as regional-indicator flags arrive concatenated.
	half := len(hex) / 2
	a, errA := strconv.ParseUint(hex[:half], 16, 32)
	b, errB := strconv.ParseUint(hex[half:], 16, 32)
	if errA != nil || errB != nil {
		return ""
	}
	return string([]rune{rune(a), rune(b)})
}

// FormatContent normalizes message text: emoji spans, line breaks and HTML
// entities.
func FormatContent(s string) string {
	s = FormatEmoji(s)
	s = strings.ReplaceAll(s, "<br/>", "\n")
	return html.UnescapeString(s)
}

// ParseMapLabel returns the "label (coordinates)" prefix of a location
// message, or "Map" when there is none.
func ParseMapLabel(content string) string {
	if m := mapLabelRe.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return "Map"
}

// ParseTransferNote returns the second CDATA section of a transfer notice up
// to the first ideographic full stop.
func ParseTransferNote(content string) string {
	m := cdataPairRe.FindStringSubmatch(content)
	if m == nil {
		return "You may find detailed info in Content."
	}
	note, _, _ := strings.Cut(m[2], "\u3002")
	return note
}

// ParseSystemNote returns the first CDATA section of a system notice with
// backslashes removed.
func ParseSystemNote(content string) string {
	m := cdataRe.FindStringSubmatch(content)
	if m == nil {
		return "System message"
	}
	return strings.ReplaceAll(m[1], `\`, "")
}

// SplitGroupContent splits a group message body of the form
// "@sender:<br/>text" into its sender and text.
func SplitGroupContent(content string) (sender, text string, ok bool) {
	m := groupMsgRe.FindStringSubmatch(content)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
