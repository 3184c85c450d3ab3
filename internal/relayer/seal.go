package relayer

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"salon-gateway/internal/domain"
)

var sealInfo = []byte("salon-user-decrypt")

var errSealedReply = errors.New("cannot open sealed relayer reply")

// generateKeypair はX25519の一時鍵ペアを生成する。秘密鍵はRFC 7748に従ってクランプする。
func generateKeypair() (domain.KeyPair, error) {
	var priv [curve25519.ScalarSize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return domain.KeyPair{}, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return domain.KeyPair{}, err
	}
	return domain.KeyPair{
		PublicKey:  hexutil.Encode(pub),
		PrivateKey: hexutil.Encode(priv[:]),
	}, nil
}

func decodeKey(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != curve25519.PointSize {
		return nil, fmt.Errorf("want %d byte key, got %d", curve25519.PointSize, len(b))
	}
	return b, nil
}

// sealKey は共有秘密から応答の鍵を導出する。ソルトは送信側と受信側の公開鍵の連結。
func sealKey(shared, ephemeralPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeralPub)+len(recipientPub))
	salt = append(salt, ephemeralPub...)
	salt = append(salt, recipientPub...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, sealInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}

// openReply は一時秘密鍵でリレイヤーの応答を開封し、平文の数値を返す。
// ciphertextはXChaCha20-Poly1305のnonceと暗号文の連結で、ハンドルを追加データとする。
func openReply(privateKey string, ephemeralPub string, ciphertext string, handle domain.Handle) (uint64, error) {
	priv, err := decodeKey(privateKey)
	if err != nil {
		return 0, fmt.Errorf("%w: private key: %v", errSealedReply, err)
	}
	epub, err := decodeKey(ephemeralPub)
	if err != nil {
		return 0, fmt.Errorf("%w: ephemeral key: %v", errSealedReply, err)
	}
	sealed, err := hexutil.Decode(ciphertext)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSealedReply, err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return 0, fmt.Errorf("%w: ciphertext too short", errSealedReply)
	}
	ad, err := hexutil.Decode(string(handle))
	if err != nil {
		return 0, fmt.Errorf("%w: handle: %v", errSealedReply, err)
	}

	shared, err := curve25519.X25519(priv, epub)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSealedReply, err)
	}
	recipientPub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSealedReply, err)
	}
	key, err := sealKey(shared, epub, recipientPub)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSealedReply, err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSealedReply, err)
	}

	nonce, body := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, body, ad)
	if err != nil {
		return 0, fmt.Errorf("%w: authentication failed", errSealedReply)
	}

	v := new(big.Int).SetBytes(pt)
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: plaintext out of range", errSealedReply)
	}
	return v.Uint64(), nil
}
