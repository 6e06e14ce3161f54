package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// ParseRecipients parses age recipients, one per line. Blank lines and
// lines starting with # are ignored.
func ParseRecipients(r io.Reader) ([]age.Recipient, error) {
	recipients, err := age.ParseRecipients(r)
	if err != nil {
		return nil, fmt.Errorf("parsing recipients: %w", err)
	}
	return recipients, nil
}

// LoadRecipients reads recipients from path and from literal values.
// An empty path is skipped.
func LoadRecipients(path string, values []string) ([]age.Recipient, error) {
	var all []age.Recipient
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading recipients file: %w", err)
		}
		recipients, err := ParseRecipients(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, recipients...)
	}
	if len(values) > 0 {
		recipients, err := ParseRecipients(strings.NewReader(strings.Join(values, "\n")))
		if err != nil {
			return nil, err
		}
		all = append(all, recipients...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no export recipients configured")
	}
	return all, nil
}

// GenerateKeys creates an X25519 key pair. The recipient is appended to
// recipientsPath in plaintext; the identity is written to identityPath,
// encrypted with passphrase using age's scrypt recipient.
func GenerateKeys(recipientsPath, identityPath, passphrase string) (*age.X25519Identity, error) {
	if _, err := os.Stat(identityPath); err == nil {
		return nil, fmt.Errorf("identity file already exists at %s", identityPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{recipientsPath, identityPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return nil, fmt.Errorf("creating key directory: %w", err)
		}
	}

	pub, err := os.OpenFile(recipientsPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening recipients file: %w", err)
	}
	defer pub.Close()
	if _, err := fmt.Fprintln(pub, identity.Recipient().String()); err != nil {
		return nil, fmt.Errorf("writing recipient: %w", err)
	}

	priv, err := os.OpenFile(identityPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating identity file: %w", err)
	}
	defer priv.Close()

	scrypt, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	w, err := age.Encrypt(priv, scrypt)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("writing encrypted identity: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encrypted identity: %w", err)
	}

	return identity, nil
}

// UnlockIdentity decrypts an identity file written by GenerateKeys.
func UnlockIdentity(identityPath, passphrase string) ([]age.Identity, error) {
	data, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(data), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting identity: %w", err)
	}

	identities, err := age.ParseIdentities(decReader)
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", identityPath)
	}
	return identities, nil
}
