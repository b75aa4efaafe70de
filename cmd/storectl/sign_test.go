package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-payments/internal/signature"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSign_PaymentPayload(t *testing.T) {
	out, err := run(t, "", "sign", "--secret", "s3cret", "--order-id", "order_R1", "--payment-id", "pay_1")
	require.NoError(t, err)

	want := signature.Compute("s3cret", []byte("order_R1|pay_1"))
	assert.Equal(t, want, strings.TrimSpace(out))
}

func TestSign_WebhookBodyFromStdin(t *testing.T) {
	body := `{"event":"payment.captured"}`
	out, err := run(t, body, "sign", "--secret", "whsec", "--body", "-")
	require.NoError(t, err)
	assert.Equal(t, signature.Compute("whsec", []byte(body)), strings.TrimSpace(out))
}

func TestVerify(t *testing.T) {
	good := signature.Compute("s3cret", []byte("order_R1|pay_1"))

	out, err := run(t, "", "verify", "--secret", "s3cret", "--order-id", "order_R1", "--payment-id", "pay_1", "--signature", good)
	require.NoError(t, err)
	assert.Contains(t, out, "signature ok")

	_, err = run(t, "", "verify", "--secret", "s3cret", "--order-id", "order_R1", "--payment-id", "pay_2", "--signature", good)
	assert.EqualError(t, err, "signature mismatch")
}

func TestSign_RequiresPayload(t *testing.T) {
	_, err := run(t, "", "sign", "--secret", "s3cret", "--order-id", "order_R1")
	assert.Error(t, err)
}
