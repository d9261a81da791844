// Package transport is the boundary to the messaging platform: inbound
// events, outbound notices, and relayed content.
//
// Nothing in this package carries a sender identity. Forward takes the
// recipient and the content only, so a relayed message cannot leak who sent it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oggyb/anon-relay/internal/session"
)

var (
	// ErrRecipientGone means the recipient can no longer be reached
	// (blocked the bot, deleted account, disconnected).
	ErrRecipientGone = errors.New("recipient unavailable")

	// ErrTransient is a retryable platform failure (rate limit, network).
	ErrTransient = errors.New("transient transport error")

	ErrInvalidContent = errors.New("invalid content")
)

// Sink delivers messages to users.
type Sink interface {
	Notify(ctx context.Context, to session.UserID, n Notice) error
	Forward(ctx context.Context, to session.UserID, c Content) error
}

// NoticeKind identifies a service message. Rendering is up to the platform.
type NoticeKind string

const (
	NoticeWelcome            NoticeKind = "welcome"
	NoticeMatched            NoticeKind = "matched"
	NoticeSearching          NoticeKind = "searching"
	NoticeAlreadyConnected   NoticeKind = "already_connected"
	NoticeAlreadySearching   NoticeKind = "already_searching"
	NoticePartnerLeft        NoticeKind = "partner_left"
	NoticeChatEnded          NoticeKind = "chat_ended"
	NoticeLeftQueue          NoticeKind = "left_queue"
	NoticeNotInChat          NoticeKind = "not_in_chat"
	NoticePartnerUnavailable NoticeKind = "partner_unavailable"
	NoticeDeliveryFailed     NoticeKind = "delivery_failed"
	NoticeSlowDown           NoticeKind = "slow_down"
	NoticeTryAgain           NoticeKind = "try_again"
	NoticeReportSubmitted    NoticeKind = "report_submitted"
	NoticeAdminReport        NoticeKind = "admin_report"
)

// Notice is a service message. Body is only set for admin notices.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Body string     `json:"body,omitempty"`
}

// N builds a Notice without body.
func N(kind NoticeKind) Notice { return Notice{Kind: kind} }

// Kind is the content type of a relayed message.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindVoice    Kind = "voice"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindLocation Kind = "location"
)

// Content is an opaque relayed payload. The relay never inspects it beyond
// Validate; kind-specific rendering happens in the platform adapter.
type Content struct {
	Kind      Kind    `json:"kind"`
	Text      string  `json:"text,omitempty"`
	FileRef   string  `json:"file_ref,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Validate checks that the fields required by Kind are present.
func (c Content) Validate() error {
	switch c.Kind {
	case KindText:
		if c.Text == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidContent)
		}
	case KindPhoto, KindVideo, KindVoice, KindAudio, KindDocument, KindSticker:
		if c.FileRef == "" {
			return fmt.Errorf("%w: %s without file_ref", ErrInvalidContent, c.Kind)
		}
	case KindLocation:
		if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
			return fmt.Errorf("%w: coordinates out of range", ErrInvalidContent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidContent, c.Kind)
	}
	return nil
}

// Event is an inbound user action: Command or Message.
type Event interface {
	isEvent()
}

type CommandName string

const (
	CmdStart  CommandName = "start"
	CmdHelp   CommandName = "help"
	CmdFind   CommandName = "find"
	CmdStop   CommandName = "stop"
	CmdNext   CommandName = "next"
	CmdReport CommandName = "report"
)

// Command is a slash command with its free-form arguments.
type Command struct {
	Name CommandName
	Args string
}

// Message is relayable content.
type Message struct {
	Content Content
}

func (Command) isEvent() {}
func (Message) isEvent() {}

// ParseCommand parses "/name[@bot] [args]". ok is false for plain text or
// unknown commands.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")

	name := CommandName(strings.ToLower(head))
	switch name {
	case CmdStart, CmdHelp, CmdFind, CmdStop, CmdNext, CmdReport:
		return Command{Name: name, Args: strings.TrimSpace(args)}, true
	}
	return Command{}, false
}
