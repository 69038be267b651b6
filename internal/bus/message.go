// Package bus implements the filesystem Message Bus (C1): typed documents
// routed between stages via Outbox/Inbox/Archive directories, with a durable
// audit trail. The on-disk format is exact so any implementation can read
// any other's output (spec.md §4.1): YAML front matter, a markdown subject
// and body, and an optional single fenced JSON payload block.
package bus

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Priority is the message urgency vocabulary from spec.md §4.1.
type Priority string

const (
	PriorityRoutine  Priority = "routine"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// MessageType enumerates the required types from spec.md §6.4.
type MessageType string

const (
	TypeDailyBriefing      MessageType = "DailyBriefing"
	TypeRiskAssessment     MessageType = "RiskAssessment"
	TypeBuyOrder           MessageType = "BuyOrder"
	TypeSellOrder          MessageType = "SellOrder"
	TypeExecutiveApproval  MessageType = "ExecutiveApproval"
	TypeRegimeAssessment   MessageType = "RegimeAssessment"
	TypeEscalation         MessageType = "Escalation"
)

// Metadata is the flat YAML front-matter mapping.
type Metadata struct {
	MessageID        string    `yaml:"message_id"`
	From             string    `yaml:"from"`
	To               string    `yaml:"to"`
	Timestamp        time.Time `yaml:"timestamp"`
	MessageType      string    `yaml:"message_type"`
	Priority         string    `yaml:"priority"`
	RequiresResponse bool      `yaml:"requires_response"`
	ParentMessageID  string    `yaml:"parent_message_id,omitempty"`
}

// Message is a fully parsed message file.
type Message struct {
	Metadata Metadata
	Subject  string
	Body     string
	Payload  []byte // raw JSON, nil if absent
}

var jsonFenceRe = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")
var subjectRe = regexp.MustCompile(`(?m)^#\s+(.*)$`)

// Encode renders a Message in the exact on-disk format from spec.md §4.1.
func Encode(m Message) ([]byte, error) {
	fm, err := yaml.Marshal(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString("# " + m.Subject + "\n\n")
	buf.WriteString(strings.TrimRight(m.Body, "\n"))
	buf.WriteString("\n")
	if len(m.Payload) > 0 {
		buf.WriteString("\n```json\n")
		buf.Write(bytes.TrimRight(m.Payload, "\n"))
		buf.WriteString("\n```\n")
	}
	return buf.Bytes(), nil
}

// Decode parses the on-disk format back into a Message. A single fenced JSON
// block is extracted as the payload; more than one fenced block, or no
// front-matter delimiters, is a schema error.
func Decode(raw []byte) (Message, error) {
	text := string(raw)
	if !strings.HasPrefix(text, "---\n") {
		return Message{}, fmt.Errorf("missing front matter delimiter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return Message{}, fmt.Errorf("unterminated front matter")
	}
	fmBlock := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var meta Metadata
	if err := yaml.Unmarshal([]byte(fmBlock), &meta); err != nil {
		return Message{}, fmt.Errorf("parse front matter: %w", err)
	}
	if meta.MessageID == "" || meta.From == "" || meta.To == "" {
		return Message{}, fmt.Errorf("front matter missing required keys")
	}

	subject := ""
	if loc := subjectRe.FindStringSubmatchIndex(body); loc != nil {
		subject = body[loc[2]:loc[3]]
	}

	matches := jsonFenceRe.FindAllStringSubmatch(body, -1)
	var payload []byte
	if len(matches) == 1 {
		payload = []byte(matches[0][1])
	} else if len(matches) > 1 {
		return Message{}, fmt.Errorf("more than one fenced JSON block present")
	}

	// Body is everything after the subject heading, minus a trailing JSON
	// fence if one was present.
	freeBody := body
	if loc := subjectRe.FindStringIndex(body); loc != nil {
		freeBody = body[loc[1]:]
	}
	freeBody = jsonFenceRe.ReplaceAllString(freeBody, "")
	freeBody = strings.TrimSpace(freeBody)

	return Message{Metadata: meta, Subject: subject, Body: freeBody, Payload: payload}, nil
}

// ValidatePriority reports whether p is one of the four allowed values.
func ValidatePriority(p string) bool {
	switch Priority(p) {
	case PriorityRoutine, PriorityHigh, PriorityUrgent, PriorityCritical:
		return true
	}
	return false
}
