package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Executable names expected in a build-artifacts directory.
const (
	ServerBinary = "grpc-server"
	ClientBinary = "grpc-client"
)

// ClientMode selects how the fake client behaves.
type ClientMode int

const (
	// ClientCopies fetches the requested file from the sibling server
	// directory, or fails without writing anything when it does not exist.
	ClientCopies ClientMode = iota

	// ClientCorrupts fetches the file but zeroes its content.
	ClientCorrupts

	// ClientLeaksInvalid leaves an empty file behind for unknown requests.
	ClientLeaksInvalid

	// ClientHangs never exits.
	ClientHangs
)

// FakeOptions configures FakeBinaries.
type FakeOptions struct {
	Client ClientMode

	// ServerIgnoresTerm makes the fake server ignore SIGTERM.
	ServerIgnoresTerm bool
}

// fakeServer records its address and pid in its working directory, then
// idles until terminated. exec keeps the pid stable so SIGTERM reaches sleep.
const fakeServer = `#!/bin/sh
echo $$ > server.pid
echo "$1" > server.addr
echo "serving on $1"
exec sleep 3600
`

const fakeStubbornServer = `#!/bin/sh
trap '' TERM
echo $$ > server.pid
echo "$1" > server.addr
echo "serving on $1"
while :; do sleep 1; done
`

// fakeClient talks to the fake server through the sandbox layout: it waits
// briefly for a live server on the requested address, then copies the
// requested file from the server directory into its working directory.
const fakeClient = `#!/bin/sh
addr="$1"
name="$2"
server_dir="$(dirname "$0")/../server"
ready=""
i=0
while [ $i -lt 100 ]; do
	pid="$(cat "$server_dir/server.pid" 2>/dev/null)"
	if [ -n "$pid" ] && kill -0 "$pid" 2>/dev/null && [ "$(cat "$server_dir/server.addr" 2>/dev/null)" = "$addr" ]; then
		ready=1
		break
	fi
	i=$((i+1))
	sleep 0.05
done
if [ -z "$ready" ]; then
	echo "server not listening on $addr" >&2
	exit 2
fi
case "$name" in
	/*) src="$name" ;;
	*) src="$server_dir/$name" ;;
esac
out="./$(basename "$name")"
if [ ! -f "$src" ]; then
	echo "file not found: $name" >&2
	{{LEAK}}
	exit 1
fi
cp "$src" "$out"
{{CORRUPT}}
echo "received $name"
`

const fakeHangingClient = `#!/bin/sh
exec sleep 3600
`

// WriteExecutable writes an executable script into dir and returns its path.
func WriteExecutable(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// FakeBinaries writes a fake grpc-server and grpc-client into a fresh
// temporary directory and returns that directory.
func FakeBinaries(t *testing.T, opts FakeOptions) string {
	t.Helper()
	dir := t.TempDir()

	server := fakeServer
	if opts.ServerIgnoresTerm {
		server = fakeStubbornServer
	}
	WriteExecutable(t, dir, ServerBinary, server)
	WriteExecutable(t, dir, ClientBinary, clientScript(opts.Client))

	return dir
}

func clientScript(mode ClientMode) string {
	if mode == ClientHangs {
		return fakeHangingClient
	}

	leak, corrupt := ":", ":"
	switch mode {
	case ClientLeaksInvalid:
		leak = `: > "$out"`
	case ClientCorrupts:
		corrupt = `size=$(($(wc -c < "$out"))); head -c "$size" /dev/zero > "$out"`
	}

	return strings.NewReplacer("{{LEAK}}", leak, "{{CORRUPT}}", corrupt).Replace(fakeClient)
}
