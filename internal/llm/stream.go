/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package llm

import (
	"context"
	"sync"
)

const streamBuffer = 64

// Stream delivers completion tokens in generation order. Tokens is closed
// when generation ends; Wait then returns the non-streamed result.
type Stream struct {
	tokens chan string
	cancel context.CancelFunc
	done   chan struct{}

	result CompletionResult
	err    error
	once   sync.Once
}

// Producer generates tokens, calling emit for each. emit returns false once
// the stream has been stopped.
type Producer func(ctx context.Context, emit func(token string) bool) (CompletionResult, error)

// NewStream runs produce in its own goroutine.
func NewStream(ctx context.Context, produce Producer) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		tokens: make(chan string, streamBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	emit := func(token string) bool {
		select {
		case <-ctx.Done():
			return false
		case s.tokens <- token:
			return true
		}
	}

	go func() {
		defer close(s.done)
		defer close(s.tokens)
		s.result, s.err = produce(ctx, emit)
	}()
	return s
}

// Tokens returns the ordered token channel.
func (s *Stream) Tokens() <-chan string {
	return s.tokens
}

// Stop cancels generation. It is safe to call more than once.
func (s *Stream) Stop() {
	s.once.Do(s.cancel)
}

// Wait blocks until the producer returns. Unread tokens are discarded.
func (s *Stream) Wait() (CompletionResult, error) {
	for {
		select {
		case <-s.done:
			return s.result, s.err
		case _, ok := <-s.tokens:
			if !ok {
				<-s.done
				return s.result, s.err
			}
		}
	}
}
