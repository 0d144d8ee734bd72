package httpserver

import (
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := generateSelfSignedCert()
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"Dashboard Proxy"}, parsed.Subject.Organization)
	assert.True(t, parsed.NotAfter.After(time.Now()))
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := New(logger, "0", "", http.NotFoundHandler())
	require.NoError(t, err)
	assert.Nil(t, s.tls)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewWithTLSPort(t *testing.T) {
	s, err := New(logrus.New(), "0", "0", http.NotFoundHandler())
	require.NoError(t, err)
	require.NotNil(t, s.tls)
	assert.Len(t, s.tls.TLSConfig.Certificates, 1)
}
