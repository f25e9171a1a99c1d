package onvif

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	nsSOAP = "http://www.w3.org/2003/05/soap-envelope"
	nsWSSE = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	nsWSA  = "http://www.w3.org/2005/08/addressing"
	nsTDS  = "http://www.onvif.org/ver10/device/wsdl"
	nsTEV  = "http://www.onvif.org/ver10/events/wsdl"
	nsWSNT = "http://docs.oasis-open.org/wsn/b-2"

	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	base64EncodingType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-soap-message-security-1.0#Base64Binary"
)

// SOAP actions.
const (
	actionGetCapabilities         = "http://www.onvif.org/ver10/device/wsdl/GetCapabilities"
	actionCreatePullPoint         = "http://www.onvif.org/ver10/events/wsdl/EventPortType/CreatePullPointSubscriptionRequest"
	actionPullMessages            = "http://www.onvif.org/ver10/events/wsdl/PullPointSubscription/PullMessagesRequest"
	actionSetSynchronizationPoint = "http://www.onvif.org/ver10/events/wsdl/PullPointSubscription/SetSynchronizationPointRequest"
	actionRenew                   = "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/RenewRequest"
	actionUnsubscribe             = "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/UnsubscribeRequest"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 4 << 20

type credentials struct {
	username string
	password string
}

// usernameToken builds the WS-Security header: Digest = B64(SHA1(nonce + created + password)).
func (c credentials) usernameToken(now time.Time) (string, error) {
	if c.username == "" {
		return "", nil
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	created := now.UTC().Format("2006-01-02T15:04:05.000Z")

	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(c.password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf(
		`<wsse:Security s:mustUnderstand="1" xmlns:wsse="%s" xmlns:wsu="%s">`+
			`<wsse:UsernameToken><wsse:Username>%s</wsse:Username>`+
			`<wsse:Password Type="%s">%s</wsse:Password>`+
			`<wsse:Nonce EncodingType="%s">%s</wsse:Nonce>`+
			`<wsu:Created>%s</wsu:Created></wsse:UsernameToken></wsse:Security>`,
		nsWSSE, nsWSU, escape(c.username), passwordDigestType, digest,
		base64EncodingType, base64.StdEncoding.EncodeToString(nonce), created,
	), nil
}

// buildEnvelope wraps body in a SOAP 1.2 envelope with security and addressing headers.
func buildEnvelope(creds credentials, now time.Time, action, to, body string) ([]byte, error) {
	security, err := creds.usernameToken(now)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	fmt.Fprintf(&b, `<s:Envelope xmlns:s="%s" xmlns:a="%s" xmlns:tds="%s" xmlns:tev="%s" xmlns:wsnt="%s">`,
		nsSOAP, nsWSA, nsTDS, nsTEV, nsWSNT)
	b.WriteString(`<s:Header>`)
	b.WriteString(security)
	fmt.Fprintf(&b, `<a:Action s:mustUnderstand="1">%s</a:Action>`, escape(action))
	if to != "" {
		fmt.Fprintf(&b, `<a:To s:mustUnderstand="1">%s</a:To>`, escape(to))
	}
	b.WriteString(`</s:Header><s:Body>`)
	b.WriteString(body)
	b.WriteString(`</s:Body></s:Envelope>`)
	return []byte(b.String()), nil
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// call performs one SOAP exchange and decodes the body into out.
//
// Errors are classified for the caller: network failures, timeouts and
// undecodable XML wrap ErrTransient; a SOAP fault is returned as *Fault.
// Anything else (auth failure, unexpected status) is returned plain.
func call(ctx context.Context, client *http.Client, creds credentials, now time.Time, url, action, body string, out any) error {
	payload, err := buildEnvelope(creds, now, action, url, body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s"`, action))

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	var env envelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("onvif: http status %d", resp.StatusCode)
		}
		return fmt.Errorf("%w: malformed envelope: %v", ErrTransient, err)
	}

	if env.Body.Fault != nil {
		return env.Body.Fault.toFault()
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onvif: http status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(env.Body.Content, out); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ErrTransient, err)
	}
	return nil
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("onvif: request failed: %w", err)
}
