package binary

import (
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/jedisct1/go-minisign"
)

// SignatureKind identifies the format of a detached signature asset.
type SignatureKind int

const (
	SignatureNone SignatureKind = iota
	SignaturePGP
	SignatureMinisign
)

// VerifyPGP checks a detached signature over the file at path. Armored
// signatures are tried first, then binary ones.
func VerifyPGP(keyring openpgp.EntityList, path, sigPath string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	sigFile, err := os.Open(sigPath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	defer sigFile.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, file, sigFile, nil)
	if err != nil {
		// Try non-armored signature
		if _, serr := file.Seek(0, io.SeekStart); serr != nil {
			return fmt.Errorf("rewind file: %w", serr)
		}
		if _, serr := sigFile.Seek(0, io.SeekStart); serr != nil {
			return fmt.Errorf("rewind signature: %w", serr)
		}
		_, err = openpgp.CheckDetachedSignature(keyring, file, sigFile, nil)
	}
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}

	return nil
}

// VerifyMinisign checks a minisign signature over the file at path using the
// public key file at pubKeyPath.
func VerifyMinisign(pubKeyPath, path, sigPath string) error {
	pubKey, err := minisign.NewPublicKeyFromFile(pubKeyPath)
	if err != nil {
		return fmt.Errorf("load minisign key: %w", err)
	}

	sig, err := minisign.NewSignatureFromFile(sigPath)
	if err != nil {
		return fmt.Errorf("read minisign signature: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	ok, err := pubKey.Verify(data, sig)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	if !ok {
		return fmt.Errorf("verify signature: signature does not match")
	}
	return nil
}
