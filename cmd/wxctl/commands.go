package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wxweb/internal/client"
	"github.com/matheus3301/wxweb/internal/session"
)

const defaultTimeout = 10 * time.Second

type rootOptions struct {
	session string
	json    bool
	timeout time.Duration
}

// call resolves the session, dials its daemon and runs fn under the request
// timeout. A zero timeout means no deadline.
func (o *rootOptions) call(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	name := session.Resolve(o.session)
	if err := session.ValidateName(name); err != nil {
		return err
	}
	c, err := client.ForSession(name)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

func request(fields map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		panic(err)
	}
	return s
}

func (o *rootOptions) print(w io.Writer, resp *structpb.Struct, table func(tw *tabwriter.Writer)) error {
	if o.json {
		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func rows(resp *structpb.Struct, key string) []map[string]any {
	var out []map[string]any
	for _, v := range resp.Fields[key].GetListValue().GetValues() {
		out = append(out, v.GetStructValue().AsMap())
	}
	return out
}

func fmtMillis(v any) string {
	ms, _ := v.(float64)
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(int64(ms)).Local().Format("2006-01-02 15:04")
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.call(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.GetStatus(ctx)
				if err != nil {
					return err
				}
				m := resp.AsMap()
				return o.print(cmd.OutOrStdout(), resp, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "Session:\t%v\n", m["session"])
					fmt.Fprintf(tw, "Status:\t%v\n", m["status"])
					if nick, _ := m["nick_name"].(string); nick != "" {
						fmt.Fprintf(tw, "Account:\t%s (%v)\n", nick, m["user_name"])
					}
					fmt.Fprintf(tw, "Contacts:\t%v friends, %v groups, %v broadcasts\n", m["friends"], m["groups"], m["broadcasts"])
					fmt.Fprintf(tw, "Uptime:\t%v\n", time.Duration(m["uptime_ms"].(float64))*time.Millisecond)
				})
			})
		},
	}
}

func newSendCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <to> <text...>",
		Short: "Queue a text message",
		Long:  "Queue a text message. <to> is a user name, or a remark, nick or group name.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.call(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.SendText(ctx, request(map[string]any{
					"to":   args[0],
					"text": strings.Join(args[1:], " "),
				}))
				if err != nil {
					return err
				}
				m := resp.AsMap()
				return o.print(cmd.OutOrStdout(), resp, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "queued %v for %v\n", m["client_msg_id"], m["to"])
				})
			})
		},
	}
}

func newContactsCmd(o *rootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "contacts [query]",
		Short: "List friends, groups or broadcast accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return o.call(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.ListContacts(ctx, request(map[string]any{"kind": kind, "query": query}))
				if err != nil {
					return err
				}
				return o.print(cmd.OutOrStdout(), resp, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "KIND\tUSER\tNICK\tREMARK")
					for _, r := range rows(resp, "contacts") {
						fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", r["kind"], r["user_name"], r["nick_name"], r["remark_name"])
					}
				})
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "friend", "friend, group or broadcast")
	return cmd
}

func newChatsCmd(o *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List archived conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.call(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.ListChats(ctx, request(map[string]any{"limit": limit, "offset": offset}))
				if err != nil {
					return err
				}
				return o.print(cmd.OutOrStdout(), resp, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "CHAT\tNAME\tUNREAD\tLAST\tPREVIEW")
					for _, r := range rows(resp, "chats") {
						fmt.Fprintf(tw, "%v\t%v\t%v\t%s\t%v\n", r["chat_id"], r["name"], r["unread_count"], fmtMillis(r["last_message_at"]), r["last_message_preview"])
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum chats")
	cmd.Flags().IntVar(&offset, "offset", 0, "chats to skip")
	return cmd
}

func printMessages(tw *tabwriter.Writer, msgs []map[string]any, snippet bool) {
	fmt.Fprintln(tw, "TIME\tCHAT\tFROM\tTYPE\tBODY")
	for _, r := range msgs {
		body := r["body"]
		if snippet {
			body = r["snippet"]
		}
		from := r["sender_name"]
		if me, _ := r["from_me"].(bool); me {
			from = "me"
		}
		fmt.Fprintf(tw, "%s\t%v\t%v\t%v\t%v\n", fmtMillis(r["timestamp"]), r["chat_id"], from, r["type"], body)
	}
}

func newMessagesCmd(o *rootOptions) *cobra.Command {
	var limit int
	var before time.Duration
	cmd := &cobra.Command{
		Use:   "messages <chat>",
		Short: "Show archived messages of a chat, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"chat_id": args[0], "limit": limit}
			if before > 0 {
				req["before_ms"] = time.Now().Add(-before).UnixMilli()
			}
			return o.call(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.ListMessages(ctx, request(req))
				if err != nil {
					return err
				}
				return o.print(cmd.OutOrStdout(), resp, func(tw *tabwriter.Writer) {
					printMessages(tw, rows(resp, "messages"), false)
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages")
	cmd.Flags().DurationVar(&before, "before", 0, "only messages older than this")
	return cmd
}

func newSearchCmd(o *rootOptions) *cobra.Command {
	var chat string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search the message archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.call(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.SearchMessages(ctx, request(map[string]any{
					"query":   strings.Join(args, " "),
					"chat_id": chat,
					"limit":   limit,
				}))
				if err != nil {
					return err
				}
				return o.print(cmd.OutOrStdout(), resp, func(tw *tabwriter.Writer) {
					printMessages(tw, rows(resp, "results"), true)
				})
			})
		},
	}
	cmd.Flags().StringVar(&chat, "chat", "", "restrict to one chat")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func newWatchCmd(o *rootOptions) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o.timeout = 0
			return o.call(cmd, func(ctx context.Context, c *client.Client) error {
				stream, err := c.WatchEvents(ctx, request(map[string]any{"prefix": prefix}))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for {
					evt, err := stream.Recv()
					if errors.Is(err, io.EOF) {
						return nil
					}
					if err != nil {
						return err
					}
					m := evt.AsMap()
					if o.json {
						b, _ := protojson.Marshal(evt)
						fmt.Fprintln(out, string(b))
						continue
					}
					fmt.Fprintf(out, "%s %-24v %v\n", fmtMillis(m["occurred_at_ms"]), m["kind"], m["payload"])
				}
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only events whose kind starts with this")
	return cmd
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log the account out and stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.call(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}
}
