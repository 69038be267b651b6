package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Bus drives the Outbox/Inbox/Archive filesystem layout rooted at Root.
type Bus struct {
	Root string
	Self string // this process's department name, used for Outbox/Archive
	log  zerolog.Logger
}

// New builds a Bus rooted at root, identifying the caller as self (e.g.
// "Research", "Risk", "Coordinator").
func New(root, self string, log zerolog.Logger) *Bus {
	return &Bus{Root: root, Self: self, log: log.With().Str("component", "bus").Str("dept", self).Logger()}
}

func (b *Bus) outboxDir(from string) string    { return filepath.Join(b.Root, "Outbox", from) }
func (b *Bus) inboxDir(to string) string       { return filepath.Join(b.Root, "Inbox", to) }
func (b *Bus) archiveDir(self, date string) string {
	return filepath.Join(b.Root, "Archive", date, self)
}

// Write serializes a new message into Outbox/<self> using an atomic
// temp-file-then-rename, returning its message_id. Fails with an IOError
// (returned as a plain wrapped error) if the outbox is not writable.
func (b *Bus) Write(to string, msgType MessageType, subject, body string, payload []byte, parent string) (string, error) {
	id := uuid.NewString()
	meta := Metadata{
		MessageID:        id,
		From:             b.Self,
		To:               to,
		Timestamp:        time.Now().UTC(),
		MessageType:      string(msgType),
		Priority:         string(PriorityRoutine),
		RequiresResponse: false,
		ParentMessageID:  parent,
	}
	return id, b.writeMessage(Message{Metadata: meta, Subject: subject, Body: body, Payload: payload})
}

// WriteWithPriority is Write but lets the caller set priority and
// requires_response explicitly.
func (b *Bus) WriteWithPriority(to string, msgType MessageType, priority Priority, requiresResponse bool, subject, body string, payload []byte, parent string) (string, error) {
	id := uuid.NewString()
	meta := Metadata{
		MessageID:        id,
		From:             b.Self,
		To:               to,
		Timestamp:        time.Now().UTC(),
		MessageType:      string(msgType),
		Priority:         string(priority),
		RequiresResponse: requiresResponse,
		ParentMessageID:  parent,
	}
	return id, b.writeMessage(Message{Metadata: meta, Subject: subject, Body: body, Payload: payload})
}

func (b *Bus) writeMessage(m Message) error {
	dir := b.outboxDir(b.Self)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("outbox not writable: %w", err)
	}
	encoded, err := Encode(m)
	if err != nil {
		return err
	}
	final := filepath.Join(dir, m.Metadata.MessageID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("outbox not writable: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("outbox not writable: %w", err)
	}
	return nil
}

// Route copies a message file from Outbox/<from> to Inbox/<to>. Routing
// never overwrites an existing inbox file: duplicate routes are no-ops.
func (b *Bus) Route(messageID, from, to string) error {
	src := filepath.Join(b.outboxDir(from), messageID)
	dstDir := b.inboxDir(to)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("inbox not writable: %w", err)
	}
	dst := filepath.Join(dstDir, messageID)
	if _, err := os.Stat(dst); err == nil {
		return nil // idempotent: already routed
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read outbox message: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("inbox not writable: %w", err)
	}
	return os.Rename(tmp, dst)
}

// Read loads and parses a message from an arbitrary path (inbox or archive).
func (b *Bus) Read(path string) (Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	return Decode(data)
}

// Archive moves a processed message from Inbox/<self> to
// Archive/<today>/<self>. Archived messages are never modified afterward.
func (b *Bus) Archive(messageID string) error {
	src := filepath.Join(b.inboxDir(b.Self), messageID)
	today := time.Now().UTC().Format("2006-01-02")
	dstDir := b.archiveDir(b.Self, today)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("archive not writable: %w", err)
	}
	dst := filepath.Join(dstDir, messageID)
	return os.Rename(src, dst)
}

// DeadLetter archives a message that failed to parse into a dead-letter
// subdirectory, per spec.md §7 SchemaError handling for messages.
func (b *Bus) DeadLetter(path string) error {
	today := time.Now().UTC().Format("2006-01-02")
	dstDir := filepath.Join(b.Root, "Archive", today, "DeadLetter")
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("dead-letter archive not writable: %w", err)
	}
	dst := filepath.Join(dstDir, filepath.Base(path))
	return os.Rename(path, dst)
}

// Inbox lists message file paths currently waiting in Inbox/<recipient>.
func (b *Bus) Inbox(recipient string) ([]string, error) {
	dir := b.inboxDir(recipient)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
