package llm

import (
	"context"
	"errors"
	"sync"
)

// Call is one recorded completion request.
type Call struct {
	System string
	User   string
}

// Reply is one scripted response.
type Reply struct {
	Text string
	Err  error
}

// Scripted is a deterministic Completer for tests. Replies are consumed in
// order; Handler, when set, answers once the queue is empty.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call

	Handler func(system, user string) (string, error)
}

// NewScripted queues the given texts as successful replies.
func NewScripted(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

func (s *Scripted) Queue(replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s
}

func (s *Scripted) Complete(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify("scripted", err)
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{System: system, User: user})
	var next *Reply
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		next = &r
	}
	handler := s.Handler
	s.mu.Unlock()

	switch {
	case next != nil:
		if next.Err != nil {
			return "", classify("scripted", next.Err)
		}
		return next.Text, nil
	case handler != nil:
		text, err := handler(system, user)
		if err != nil {
			return "", classify("scripted", err)
		}
		return text, nil
	}
	return "", &CollaboratorError{Provider: "scripted", Kind: KindUnknown, Err: errors.New("script exhausted")}
}

// Calls returns a copy of the recorded requests.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Remaining reports how many queued replies are unused.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}
