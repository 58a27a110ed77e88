package tlog

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadCheckpoint = errors.New("bad checkpoint")

// Checkpoint commits to the journal at a given size.
type Checkpoint struct {
	Origin string
	Size   uint64
	Root   []byte
}

// Body renders the checkpoint body in the tlog checkpoint text format.
func (c Checkpoint) Body() []byte {
	return []byte(fmt.Sprintf("%s\n%d\n%s\n", c.Origin, c.Size, base64.StdEncoding.EncodeToString(c.Root)))
}

// Checkpoint returns a signed note over the current root.
func (j *Journal) Checkpoint(origin string, s Signer) ([]byte, error) {
	root, size, err := j.Root()
	if err != nil {
		return nil, err
	}
	return SignCheckpoint(Checkpoint{Origin: origin, Size: size, Root: root}, s)
}

// SignCheckpoint renders c as a signed note.
func SignCheckpoint(c Checkpoint, s Signer) ([]byte, error) {
	body := c.Body()
	sig, err := s.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("sign checkpoint: %w", err)
	}

	blob := make([]byte, 4, 4+len(sig))
	binary.BigEndian.PutUint32(blob, s.KeyHash())
	blob = append(blob, sig...)

	var buf bytes.Buffer
	buf.Write(body)
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "— %s %s\n", s.Name(), base64.StdEncoding.EncodeToString(blob))
	return buf.Bytes(), nil
}

// OpenCheckpoint verifies a signed note produced by SignCheckpoint for the
// named Ed25519 key and returns its contents.
func OpenCheckpoint(note []byte, name string, pub ed25519.PublicKey) (Checkpoint, error) {
	sep := bytes.LastIndex(note, []byte("\n\n"))
	if sep < 0 {
		return Checkpoint{}, fmt.Errorf("%w: missing signature block", ErrBadCheckpoint)
	}
	body, sigBlock := note[:sep+1], string(note[sep+2:])

	want := keyHash(name, pub)
	verified := false
	for _, line := range strings.Split(strings.TrimSuffix(sigBlock, "\n"), "\n") {
		parts := strings.Fields(strings.TrimPrefix(line, "— "))
		if len(parts) != 2 || parts[0] != name {
			continue
		}
		blob, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil || len(blob) < 4 || binary.BigEndian.Uint32(blob) != want {
			continue
		}
		if ed25519.Verify(pub, body, blob[4:]) {
			verified = true
			break
		}
	}
	if !verified {
		return Checkpoint{}, fmt.Errorf("%w: no valid signature from %s", ErrBadCheckpoint, name)
	}

	lines := strings.SplitN(string(body), "\n", 4)
	if len(lines) < 3 {
		return Checkpoint{}, fmt.Errorf("%w: short body", ErrBadCheckpoint)
	}
	size, err := strconv.ParseUint(lines[1], 10, 64)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: size: %v", ErrBadCheckpoint, err)
	}
	root, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: root: %v", ErrBadCheckpoint, err)
	}
	return Checkpoint{Origin: lines[0], Size: size, Root: root}, nil
}
