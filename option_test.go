package routeros

import (
	"testing"
	"time"
)

func TestBufferSizeOption(t *testing.T) {
	opt := BufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.bufferSize != 100 {
		t.Errorf("bufferSize = %d, want 100", opts.bufferSize)
	}
}

func TestWordMaxSize(t *testing.T) {
	opt := WordMaxSize(4096)

	var opts options
	opt(&opts)

	if opts.maxWordSize != 4096 {
		t.Errorf("maxWordSize = %d, want 4096", opts.maxWordSize)
	}
}

func TestSentenceMaxSize(t *testing.T) {
	opt := SentenceMaxSize(1 << 20)

	var opts options
	opt(&opts)

	if opts.maxSentenceSize != 1<<20 {
		t.Errorf("maxSentenceSize = %d, want %d", opts.maxSentenceSize, 1<<20)
	}
}

func TestWriteTimeoutOption(t *testing.T) {
	opt := WriteTimeoutOption(time.Second * 5)

	var opts options
	opt(&opts)

	if opts.writeTimeout != time.Second*5 {
		t.Errorf("writeTimeout = %v, want 5s", opts.writeTimeout)
	}
}

func TestMultiplexOption(t *testing.T) {
	var opts options
	if opts.untagged {
		t.Fatal("multiplexing must be on by default")
	}

	MultiplexOption(false)(&opts)
	if !opts.untagged {
		t.Error("MultiplexOption(false) did not disable tag synthesis")
	}

	MultiplexOption(true)(&opts)
	if opts.untagged {
		t.Error("MultiplexOption(true) did not enable tag synthesis")
	}
}

func TestOnErrorOption(t *testing.T) {
	called := false
	onError := func(err error) ErrorAction {
		called = true
		return Disconnect
	}
	opt := OnErrorOption(onError)

	var opts options
	opt(&opts)

	if opts.onError == nil {
		t.Fatal("onError is nil")
	}

	if opts.onError(nil) != Disconnect || !called {
		t.Error("onError callback not called")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestCheckOptions_Defaults(t *testing.T) {
	var opts options
	checkOptions(&opts)

	if opts.bufferSize != defaultBufferSize {
		t.Errorf("bufferSize = %d, want %d", opts.bufferSize, defaultBufferSize)
	}
	if opts.writeTimeout != defaultWriteTimeout {
		t.Errorf("writeTimeout = %v, want %v", opts.writeTimeout, defaultWriteTimeout)
	}
	if opts.maxWordSize <= 0 || opts.maxSentenceSize <= 0 {
		t.Errorf("limits not set: %d, %d", opts.maxWordSize, opts.maxSentenceSize)
	}
	if opts.logger == nil {
		t.Error("logger not set")
	}
	if opts.onError == nil || opts.onError(nil) != Continue {
		t.Error("anomalies must be ignored by default")
	}
}

func TestOptions_MultipleOptions(t *testing.T) {
	logger := &mockLogger{}
	onError := func(err error) ErrorAction { return Continue }

	var opts options
	for _, opt := range []Option{
		OnErrorOption(onError),
		BufferSizeOption(50),
		WordMaxSize(8192),
		WriteTimeoutOption(time.Second * 45),
		MultiplexOption(false),
		LoggerOption(logger),
	} {
		opt(&opts)
	}
	checkOptions(&opts)

	if opts.onError == nil {
		t.Error("onError not set")
	}
	if opts.bufferSize != 50 {
		t.Errorf("bufferSize = %d, want 50", opts.bufferSize)
	}
	if opts.maxWordSize != 8192 {
		t.Errorf("maxWordSize = %d, want 8192", opts.maxWordSize)
	}
	if opts.writeTimeout != time.Second*45 {
		t.Errorf("writeTimeout = %v, want 45s", opts.writeTimeout)
	}
	if !opts.untagged {
		t.Error("untagged not set")
	}
	if opts.logger != logger {
		t.Error("logger not set")
	}
}

func TestErrorAction(t *testing.T) {
	if Disconnect != 0 {
		t.Errorf("Disconnect = %d, want 0", Disconnect)
	}

	if Continue != 1 {
		t.Errorf("Continue = %d, want 1", Continue)
	}
}
