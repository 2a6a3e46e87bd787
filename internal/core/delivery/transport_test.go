package delivery

import (
	"context"
	"errors"
	"sync"
)

var errLinkDown = errors.New("link down")

// fakeTransport records every frame written to it.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   error
	onSend func(data []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrTransportClosed
	}
	if f.fail != nil {
		err := f.fail
		f.mu.Unlock()
		return err
	}
	f.frames = append(f.frames, data)
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(data)
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeTransport) sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, 0, len(f.frames))
	for _, frame := range f.frames {
		msg, err := Decode(frame)
		if err != nil {
			panic(err)
		}
		out = append(out, msg)
	}
	return out
}
