package stt

import (
	"bytes"
	"io"
	"time"
)

func durationMs(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func newReader(b []byte) io.Reader { return bytes.NewReader(b) }
