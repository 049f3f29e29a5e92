package wx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/matheus3301/wxweb/internal/contact"
)

// GetContact fetches the whole contact list, following the Seq cursor until
// the service reports the last page.
func (c *Client) GetContact(ctx context.Context) ([]RawContact, error) {
	s := c.Session()
	var all []RawContact
	seq := int64(0)
	for {
		params := url.Values{
			"r":           {itoa(nowMillis())},
			"seq":         {itoa(seq)},
			"skey":        {s.Skey},
			"pass_ticket": {s.PassTicket},
			"lang":        {"zh_CN"},
		}
		body, err := c.get(ctx, s.BaseURL+"/webwxgetcontact", params)
		if err != nil {
			return all, fmt.Errorf("get contact page %d: %w", seq, err)
		}
		if res := parseResult(body); !res.OK() {
			return all, fmt.Errorf("get contact page %d: %w", seq, res.Err())
		}
		var page struct {
			MemberList []RawContact `json:"MemberList"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return all, fmt.Errorf("decode contact page: %w", err)
		}
		all = append(all, page.MemberList...)
		seq = gjson.GetBytes(body, "Seq").Int()
		if seq == 0 {
			return all, nil
		}
	}
}

// ContactRequest names one record for BatchGetContact. ChatRoomID is the
// group's EncryChatRoomId when fetching a member's detail.
type ContactRequest struct {
	UserName   string `json:"UserName"`
	ChatRoomID string `json:"EncryChatRoomId"`
}

// BatchGetContact fetches full records, including group member lists.
func (c *Client) BatchGetContact(ctx context.Context, reqs []ContactRequest) ([]RawContact, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	s := c.Session()
	params := url.Values{
		"type":        {"ex"},
		"r":           {itoa(nowMillis())},
		"pass_ticket": {s.PassTicket},
	}
	body, err := c.postJSON(ctx, s.BaseURL+"/webwxbatchgetcontact", params, map[string]any{
		"BaseRequest": s.baseRequest(),
		"Count":       len(reqs),
		"List":        reqs,
	})
	if err != nil {
		return nil, fmt.Errorf("batch get contact: %w", err)
	}
	if res := parseResult(body); !res.OK() {
		return nil, fmt.Errorf("batch get contact: %w", res.Err())
	}
	var resp struct {
		ContactList []RawContact `json:"ContactList"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode batch contact: %w", err)
	}
	return resp.ContactList, nil
}

// SetAlias sets a friend's remark name.
func (c *Client) SetAlias(ctx context.Context, userName, alias string) Result {
	s := c.Session()
	params := url.Values{"lang": {"zh_CN"}, "pass_ticket": {s.PassTicket}}
	return c.call(ctx, s.BaseURL+"/webwxoplog", params, map[string]any{
		"UserName":    userName,
		"CmdId":       2,
		"RemarkName":  alias,
		"BaseRequest": s.baseRequest(),
	})
}

// SetPinned pins or unpins a conversation.
func (c *Client) SetPinned(ctx context.Context, userName string, pinned bool) Result {
	s := c.Session()
	op := 0
	if pinned {
		op = 1
	}
	params := url.Values{"pass_ticket": {s.PassTicket}}
	return c.call(ctx, s.BaseURL+"/webwxoplog", params, map[string]any{
		"UserName":    userName,
		"CmdId":       3,
		"OP":          op,
		"BaseRequest": s.baseRequest(),
	})
}

// Verify operation codes.
const (
	VerifyAdd    = 2
	VerifyAccept = 3
)

// VerifyUser answers or sends a friend request.
func (c *Client) VerifyUser(ctx context.Context, userName, ticket string, opcode int, content string) Result {
	s := c.Session()
	params := url.Values{"r": {itoa(nowMillis())}, "pass_ticket": {s.PassTicket}}
	return c.call(ctx, s.BaseURL+"/webwxverifyuser", params, map[string]any{
		"BaseRequest":        s.baseRequest(),
		"Opcode":             opcode,
		"VerifyUserListSize": 1,
		"VerifyUserList": []map[string]string{{
			"Value":            userName,
			"VerifyUserTicket": ticket,
		}},
		"VerifyContent":  content,
		"SceneListCount": 1,
		"SceneList":      []int{33},
		"skey":           s.Skey,
	})
}

// HeadImage downloads a head image. For group members, chatRoomID is the
// group's EncryChatRoomId.
func (c *Client) HeadImage(ctx context.Context, userName, chatRoomID string) ([]byte, Result) {
	s := c.Session()
	endpoint := "/webwxgeticon"
	params := url.Values{"userName": {userName}, "skey": {s.Skey}, "type": {"big"}}
	if contact.IsGroupName(userName) {
		endpoint = "/webwxgetheadimg"
	} else if chatRoomID != "" {
		params.Set("chatroomid", chatRoomID)
	}
	body, err := c.get(ctx, s.BaseURL+endpoint, params)
	if err != nil {
		return nil, requestFailed(err)
	}
	if len(body) == 0 {
		return nil, failed(RetNotFound, "empty head image")
	}
	return body, Result{}
}

// CreateChatroom creates a group with the given members.
func (c *Client) CreateChatroom(ctx context.Context, members []string, topic string) Result {
	s := c.Session()
	list := make([]map[string]string, 0, len(members))
	for _, m := range members {
		list = append(list, map[string]string{"UserName": m})
	}
	params := url.Values{"pass_ticket": {s.PassTicket}, "r": {itoa(nowMillis())}}
	return c.call(ctx, s.BaseURL+"/webwxcreatechatroom", params, map[string]any{
		"BaseRequest": s.baseRequest(),
		"MemberCount": len(members),
		"MemberList":  list,
		"Topic":       topic,
	})
}

// SetChatroomName renames a group.
func (c *Client) SetChatroomName(ctx context.Context, chatRoom, name string) Result {
	return c.updateChatroom(ctx, "modtopic", map[string]any{
		"ChatRoomName": chatRoom,
		"NewTopic":     name,
	})
}

// DeleteMembers removes members from a group.
func (c *Client) DeleteMembers(ctx context.Context, chatRoom string, members []string) Result {
	return c.updateChatroom(ctx, "delmember", map[string]any{
		"ChatRoomName":  chatRoom,
		"DelMemberList": strings.Join(members, ","),
	})
}

// AddMembers adds members to a group directly, or sends invitations when
// invite is set.
func (c *Client) AddMembers(ctx context.Context, chatRoom string, members []string, invite bool) Result {
	if invite {
		return c.updateChatroom(ctx, "invitemember", map[string]any{
			"ChatRoomName":     chatRoom,
			"InviteMemberList": strings.Join(members, ","),
		})
	}
	return c.updateChatroom(ctx, "addmember", map[string]any{
		"ChatRoomName":  chatRoom,
		"AddMemberList": strings.Join(members, ","),
	})
}

func (c *Client) updateChatroom(ctx context.Context, fun string, payload map[string]any) Result {
	s := c.Session()
	payload["BaseRequest"] = s.baseRequest()
	params := url.Values{"fun": {fun}, "pass_ticket": {s.PassTicket}}
	return c.call(ctx, s.BaseURL+"/webwxupdatechatroom", params, payload)
}
