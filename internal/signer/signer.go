// Package signer implements server- and client-side OpenPGP signing of chat
// payloads, grounded on the original signing.rs: RSA-4096 keypairs with
// SHA-256 signatures and ZIP compression, literal packets named by message
// ID, and a "double-signing" flow where a client re-signs a server-signed
// message to prove receipt. golang.org/x/crypto/openpgp is the Go analogue
// of the Rust `pgp` crate the teacher already carries as an indirect
// dependency; this package is the first direct importer of it.
package signer

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/nexushub/server/internal/errkind"
)

// MaxSignatureSkew is how far into the future a signature's creation time
// may be before it is rejected as invalid, matching the original
// verify_message_extract's 10-second tolerance.
const MaxSignatureSkew = 10 * time.Second

// KeyPair holds the server's (or a cached user's) OpenPGP identity: a
// primary key capable of signing, with its paired public key reachable via
// Entity.PrimaryKey / Entity.Identities.
type KeyPair struct {
	Entity *openpgp.Entity
}

func signConfig() *packet.Config {
	return &packet.Config{
		DefaultHash:            crypto.SHA256,
		DefaultCompressionAlgo: packet.CompressionZIP,
		CompressionConfig:      &packet.CompressionConfig{Level: packet.DefaultCompression},
	}
}

// NewKeyPair generates a fresh RSA-4096 identity, self-signed the way
// KeyPair::new in signing.rs configures AES-256/SHA-256/ZIP as its
// preferred algorithms.
func NewKeyPair(identity string) (*KeyPair, error) {
	cfg := &packet.Config{
		RSABits:     4096,
		DefaultHash: crypto.SHA256,
	}
	entity, err := openpgp.NewEntity(identity, "", "", cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInternal, "generate openpgp identity", err)
	}
	for _, ident := range entity.Identities {
		ident.SelfSignature.PreferredSymmetric = []uint8{uint8(packet.CipherAES256)}
		ident.SelfSignature.PreferredHash = []uint8{8} // SHA-256's OpenPGP hash algorithm ID
		ident.SelfSignature.PreferredCompression = []uint8{uint8(packet.CompressionZIP)}
		if err := ident.SelfSignature.SignUserId(ident.UserId.Id, entity.PrimaryKey, entity.PrivateKey, cfg); err != nil {
			return nil, errkind.Wrap(errkind.KindInternal, "self-sign identity preferences", err)
		}
	}
	return &KeyPair{Entity: entity}, nil
}

// Save writes the secret and public halves of kp to armored files.
func (kp *KeyPair) Save(secretPath, publicPath string) error {
	if err := writeArmored(secretPath, "PGP PRIVATE KEY BLOCK", kp.Entity.SerializePrivate); err != nil {
		return fmt.Errorf("signer: save secret key: %w", err)
	}
	if err := writeArmored(publicPath, "PGP PUBLIC KEY BLOCK", func(w io.Writer, cfg *packet.Config) error {
		return kp.Entity.Serialize(w)
	}); err != nil {
		return fmt.Errorf("signer: save public key: %w", err)
	}
	return nil
}

func writeArmored(path, blockType string, serialize func(w io.Writer, cfg *packet.Config) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := armor.Encode(f, blockType, nil)
	if err != nil {
		return err
	}
	if err := serialize(w, nil); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// LoadKeyPair reads a secret key previously written by Save. publicPath is
// not read: the public key is always derived from the secret key's entity,
// mirroring load's fallback of
// re-deriving the public key when the public key file is absent or invalid.
func LoadKeyPair(secretPath, publicPath string) (*KeyPair, error) {
	entity, err := readArmoredEntity(secretPath)
	if err != nil {
		return nil, fmt.Errorf("signer: load secret key: %w", err)
	}
	return &KeyPair{Entity: entity}, nil
}

func readArmoredEntity(path string) (*openpgp.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	list, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errkind.New(errkind.KindInternal, "empty keyring")
	}
	return list[0], nil
}

// LoadOrCreateKeyPair loads the keypair at the given paths, generating and
// persisting a fresh one if none exists yet — the server's first-boot
// identity bootstrap.
func LoadOrCreateKeyPair(identity, secretPath, publicPath string) (*KeyPair, error) {
	if kp, err := LoadKeyPair(secretPath, publicPath); err == nil {
		return kp, nil
	}
	kp, err := NewKeyPair(identity)
	if err != nil {
		return nil, err
	}
	if err := kp.Save(secretPath, publicPath); err != nil {
		return nil, err
	}
	return kp, nil
}

// FingerprintHex returns the uppercase hex fingerprint of the entity's
// primary key, the form used for cache file names and the HKP lookup.
func FingerprintHex(e *openpgp.Entity) string {
	return fmt.Sprintf("%X", e.PrimaryKey.Fingerprint)
}

// Sign wraps content in a signed OpenPGP message whose literal packet is
// named literalName (the message ID, as in the original try_from(&Message)
// for OpenPGPMessage), armored for wire transport. The literal packet is
// not compressed.
func (kp *KeyPair) Sign(content []byte, literalName string) (string, error) {
	var buf bytes.Buffer
	armorWriter, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", errkind.Wrap(errkind.KindInternal, "start armor encoder", err)
	}

	hints := &openpgp.FileHints{IsBinary: true, FileName: literalName}
	plaintext, err := openpgp.Sign(armorWriter, kp.Entity, hints, signConfig())
	if err != nil {
		return "", errkind.Wrap(errkind.KindInternal, "start signed message", err)
	}
	if _, err := plaintext.Write(content); err != nil {
		return "", errkind.Wrap(errkind.KindInternal, "write signed content", err)
	}
	if err := plaintext.Close(); err != nil {
		return "", errkind.Wrap(errkind.KindInternal, "close signed message", err)
	}
	if err := armorWriter.Close(); err != nil {
		return "", errkind.Wrap(errkind.KindInternal, "close armor encoder", err)
	}
	return buf.String(), nil
}

// VerifyExtract verifies an armored, signed message against pub and extracts
// its literal content, matching verify_message_extract's rejection of
// signatures whose creation time is more than MaxSignatureSkew in the
// future.
func VerifyExtract(armored string, pub *openpgp.Entity) (content []byte, fingerprint string, err error) {
	block, err := armor.Decode(bytes.NewReader([]byte(armored)))
	if err != nil {
		return nil, "", errkind.Wrap(errkind.KindInvalidArgument, "decode armor", err)
	}

	keyring := openpgp.EntityList{pub}
	md, err := openpgp.ReadMessage(block.Body, keyring, nil, nil)
	if err != nil {
		return nil, "", errkind.Wrap(errkind.KindInvalidArgument, "read signed message", err)
	}

	content, err = io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, "", errkind.Wrap(errkind.KindInvalidArgument, "read message body", err)
	}

	if md.SignatureError != nil {
		return nil, "", errkind.Wrap(errkind.KindInvalidArgument, "signature verification failed", md.SignatureError)
	}
	if md.Signature == nil {
		return nil, "", errkind.New(errkind.KindInvalidArgument, "message carries no signature")
	}
	if md.Signature.CreationTime.After(time.Now().Add(MaxSignatureSkew)) {
		return nil, "", errkind.New(errkind.KindInvalidArgument, "signature creation time is too far in the future")
	}

	return content, FingerprintHex(pub), nil
}

// SignFinal implements the double-signing flow: the client verifies a
// server-signed armored message, then re-wraps the whole armored string as
// a new literal packet (named literalName, as supplied by the caller) and
// signs it with their own key, matching sign_final in
// signing.rs.
func SignFinal(armoredServerMsg string, serverPub *openpgp.Entity, clientKey *KeyPair, literalName string) (string, error) {
	if _, _, err := VerifyExtract(armoredServerMsg, serverPub); err != nil {
		return "", err
	}
	return clientKey.Sign([]byte(armoredServerMsg), literalName)
}

// VerifyDoubleSigned unwraps a client's double-signed message: verifies the
// outer signature against clientPub, extracts the embedded armored string,
// then verifies that inner message against serverPub and returns its
// content plus the client's fingerprint — the Go analogue of
// from_double_signed_verify.
func VerifyDoubleSigned(armored string, serverPub, clientPub *openpgp.Entity) (content []byte, clientFingerprint string, err error) {
	outer, clientFP, err := VerifyExtract(armored, clientPub)
	if err != nil {
		return nil, "", err
	}
	inner, _, err := VerifyExtract(string(outer), serverPub)
	if err != nil {
		return nil, "", err
	}
	return inner, clientFP, nil
}
