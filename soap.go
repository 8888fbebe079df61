package onvif

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elgs/gostrgen"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

var (
	plainTransport    = http.DefaultTransport
	insecureTransport = func() http.RoundTripper {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		return t
	}()
)

// soapHeader carries the WS-Addressing fields of a request
type soapHeader struct {
	Action string
	// To is only set for requests addressed to a subscription endpoint
	To string
	// ReferenceParameters is raw XML copied into the header as-is
	ReferenceParameters string
}

// generatePasswordDigest creates WS-Security password digest
func generatePasswordDigest(password string) (string, string, string, error) {
	created := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	nonce, err := gostrgen.RandGen(20, gostrgen.All, "", "")
	if err != nil {
		return "", "", "", errors.Annotate(err, "generating nonce")
	}
	nonceBytes := []byte(nonce)
	nonceB64 := base64.StdEncoding.EncodeToString(nonceBytes)

	h := sha1.New()
	h.Write(nonceBytes)
	h.Write([]byte(created))
	h.Write([]byte(password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return digest, nonceB64, created, nil
}

// buildEnvelope renders a complete SOAP 1.2 envelope
func (c *Client) buildEnvelope(hdr soapHeader, body string) (string, error) {
	authHeader := ""
	if c.Username != "" {
		digest, nonce, created, err := generatePasswordDigest(c.Password)
		if err != nil {
			return "", err
		}
		authHeader = fmt.Sprintf(`
		<Security s:mustUnderstand="1" xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
			<UsernameToken>
				<Username>%s</Username>
				<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>
				<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>
				<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>
			</UsernameToken>
		</Security>`, escapeXML(c.Username), digest, nonce, created)
	}

	messageID, err := uuid.NewV4()
	if err != nil {
		return "", errors.Annotate(err, "generating message id")
	}

	addressing := fmt.Sprintf(`
		<wsa:Action s:mustUnderstand="1">%s</wsa:Action>
		<wsa:MessageID>urn:uuid:%s</wsa:MessageID>`, escapeXML(hdr.Action), messageID)
	if hdr.To != "" {
		addressing += fmt.Sprintf(`
		<wsa:To s:mustUnderstand="1">%s</wsa:To>`, escapeXML(hdr.To))
	}
	addressing += hdr.ReferenceParameters

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
            xmlns:wsa="http://www.w3.org/2005/08/addressing"
            xmlns:tds="http://www.onvif.org/ver10/device/wsdl"
            xmlns:tev="http://www.onvif.org/ver10/events/wsdl"
            xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"
            xmlns:tt="http://www.onvif.org/ver10/schema">
	<s:Header>%s%s</s:Header>
	<s:Body>%s</s:Body>
</s:Envelope>`, authHeader, addressing, body), nil
}

// httpClient returns an HTTP client for the configured TLS mode. The
// transports are shared so that long-running pollers reuse connections.
func (c *Client) httpClient() *http.Client {
	if c.InsecureTLS {
		return &http.Client{Transport: insecureTransport}
	}
	return &http.Client{Transport: plainTransport}
}

func (c *Client) log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// sendSOAPRequest sends a SOAP request to an ONVIF endpoint. SOAP faults are
// returned as *FaultError and other non-2xx replies as *HTTPStatusError.
func (c *Client) sendSOAPRequest(ctx context.Context, endpoint string, hdr soapHeader, body string) ([]byte, error) {
	envelope, err := c.buildEnvelope(hdr, body)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(envelope))
	if err != nil {
		return nil, errors.Annotatef(err, "building request for %s", endpoint)
	}

	req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s"`, hdr.Action))
	req.Header.Set("SOAPAction", hdr.Action)

	started := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.log().Debug().
		Str("endpoint", endpoint).
		Str("action", hdr.Action).
		Int("status", resp.StatusCode).
		Int("bytes", len(respBody)).
		Dur("elapsed", time.Since(started)).
		Msg("SOAP exchange")

	// Some cameras report faults with a 2xx status, others with 400/500
	if err := parseSOAPFault(respBody); err != nil {
		return nil, err
	}

	// Some cameras return error codes with an empty body instead of a fault
	if resp.StatusCode >= 400 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Endpoint: endpoint}
	}

	return respBody, nil
}
