package manifestclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Sakurayuki-A/stardriver/internal/model"
)

// FakeBody is one scripted response for FakeOpener.OpenStream: either the
// bytes to serve, or an error/status to return instead.
type FakeBody struct {
	Data       []byte
	StatusCode int // 0 means use Data with a 200
	Err        error
}

// FakeOpener is an in-memory StreamOpener for tests (spec §9: "tests
// inject an in-memory fake").
type FakeOpener struct {
	mu sync.Mutex

	Root    model.RootDescriptor
	RootErr error // if set, FetchRoot returns this instead of Root
	Lists   map[string][]model.Entry // list name -> entries

	// Bodies maps entry name -> a queue of responses consumed in order.
	// Once the queue is empty, the last response repeats.
	Bodies map[string][]FakeBody

	Calls []string
}

func NewFakeOpener() *FakeOpener {
	return &FakeOpener{
		Lists:  make(map[string][]model.Entry),
		Bodies: make(map[string][]FakeBody),
	}
}

func (f *FakeOpener) FetchRoot(_ context.Context) (model.RootDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "FetchRoot")
	if f.RootErr != nil {
		return model.RootDescriptor{}, f.RootErr
	}
	return f.Root, nil
}

func (f *FakeOpener) FetchList(_ context.Context, _ model.RootDescriptor, name string, reboot bool) ([]model.Entry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "FetchList:"+name)
	entries := f.Lists[name]
	out := make([]model.Entry, len(entries))
	for i, e := range entries {
		e.Reboot = reboot
		out[i] = e
	}
	return out, 0, nil
}

func (f *FakeOpener) OpenStream(_ context.Context, _ model.RootDescriptor, entry model.Entry, useBackup bool) (*Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, fmt.Sprintf("OpenStream:%s:backup=%v", entry.Name, useBackup))

	queue := f.Bodies[entry.Name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("fake opener: no scripted body for %s", entry.Name)
	}
	next := queue[0]
	if len(queue) > 1 {
		f.Bodies[entry.Name] = queue[1:]
	}

	if next.Err != nil {
		return nil, next.Err
	}
	status := next.StatusCode
	if status == 0 {
		status = 200
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{URL: entry.Name, StatusCode: status}
	}

	return &Stream{
		Body:          io.NopCloser(bytes.NewReader(next.Data)),
		ContentLength: int64(len(next.Data)),
		StatusCode:    status,
	}, nil
}
