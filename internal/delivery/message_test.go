package delivery

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBytes(t *testing.T) {
	payload := bytes.Repeat([]byte{0x50, 0x4b, 0x03, 0x04}, 50)
	m := &Message{
		From:       "bot@example.com",
		FromName:   "Excel Bot",
		To:         []string{"a@example.com", "b@example.com"},
		Subject:    "NURHAN Raporu - Şubat",
		Body:       "Merhaba,\n\nRapor ektedir. İyi çalışmalar.",
		Attachment: &Attachment{Name: "NURHAN-0309_1405.xlsx", Data: payload},
	}
	raw, err := m.Bytes(time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC))
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	from, err := mail.ParseAddress(msg.Header.Get("From"))
	require.NoError(t, err)
	assert.Equal(t, "Excel Bot", from.Name)
	assert.Equal(t, "bot@example.com", from.Address)

	to, err := msg.Header.AddressList("To")
	require.NoError(t, err)
	assert.Len(t, to, 2)

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "NURHAN Raporu - Şubat", subject)

	assert.True(t, strings.HasSuffix(msg.Header.Get("Message-ID"), "@example.com>"))
	assert.Equal(t, "1.0", msg.Header.Get("MIME-Version"))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])

	text, err := mr.NextRawPart()
	require.NoError(t, err)
	assert.Equal(t, "quoted-printable", text.Header.Get("Content-Transfer-Encoding"))
	body, err := io.ReadAll(quotedprintable.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, m.Body, strings.ReplaceAll(string(body), "\r\n", "\n"))

	att, err := mr.NextRawPart()
	require.NoError(t, err)
	assert.Equal(t, "NURHAN-0309_1405.xlsx", att.FileName())
	assert.Contains(t, att.Header.Get("Content-Type"), "spreadsheetml")
	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(encoded)), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	_, err = mr.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestMessageNonASCIIAttachmentName(t *testing.T) {
	m := &Message{
		From:       "bot@example.com",
		To:         []string{"a@example.com"},
		Subject:    "s",
		Attachment: &Attachment{Name: "0914_Müşteri_rap.zip", Data: []byte("zip")},
	}
	raw, err := m.Bytes(time.Now())
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	_, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	_, err = mr.NextRawPart()
	require.NoError(t, err)
	att, err := mr.NextRawPart()
	require.NoError(t, err)
	assert.Equal(t, "0914_Müşteri_rap.zip", att.FileName())
	assert.Contains(t, att.Header.Get("Content-Type"), "application/zip")
}
