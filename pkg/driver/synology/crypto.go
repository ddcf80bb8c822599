// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package synology

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
)

const (
	opensslMagic  = "Salted__"
	passphraseLen = 32
	rsaExponent   = 0x10001
)

var passphraseChars = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

var randReader io.Reader = rand.Reader

func randomPassphrase() ([]byte, error) {
	b := make([]byte, passphraseLen)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, err
	}
	for i := range b {
		b[i] = passphraseChars[int(b[i])%len(passphraseChars)]
	}
	return b, nil
}

// evpBytesToKey derives an AES key and IV the way OpenSSL enc does (MD5, one iteration)
func evpBytesToKey(pass, salt []byte, keyLen, ivLen int) ([]byte, []byte) {
	var out, prev []byte
	for len(out) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(pass)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:keyLen], out[keyLen : keyLen+ivLen]
}

// opensslEncrypt returns AES-256-CBC cipher text in the OpenSSL salted format
func opensslEncrypt(pass, plain []byte) ([]byte, error) {
	salt := make([]byte, 8)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return nil, err
	}
	key, iv := evpBytesToKey(pass, salt, 32, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	data := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	ct := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, data)
	return append(append([]byte(opensslMagic), salt...), ct...), nil
}

// encryptParams encrypts url encoded login parameters with a random passphrase
// that is itself encrypted with the public key of the server.
// The result is the JSON value of the cipher key parameter.
func encryptParams(pubKeyHex string, params string) (string, error) {
	n, ok := new(big.Int).SetString(pubKeyHex, 16)
	if !ok {
		return "", fmt.Errorf("invalid public key")
	}
	pass, err := randomPassphrase()
	if err != nil {
		return "", err
	}
	rsaCT, err := rsa.EncryptPKCS1v15(randReader, &rsa.PublicKey{N: n, E: rsaExponent}, pass)
	if err != nil {
		return "", err
	}
	aesCT, err := opensslEncrypt(pass, []byte(params))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(map[string]string{
		"rsa": base64.StdEncoding.EncodeToString(rsaCT),
		"aes": base64.StdEncoding.EncodeToString(aesCT),
	})
	return string(b), err
}
