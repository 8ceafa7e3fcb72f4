// Package lnd drives an lnd node over gRPC: invoices are created through the
// Lightning service, payments are sent through the Router service and settled
// invoices are streamed back to the gateway.
package lnd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/internal/gateway"
	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const (
	maxPaymentParts          = 16
	paymentTimeoutSeconds    = 60
	minimumFeeReserveMsats   = 10_000
	feeReserveDivisor        = 100
	defaultResubscribeDelay  = 10 * time.Second
	macaroonMetadataKey      = "macaroon"
	errorOperationLightning  = "lnd"
	errorSubjectConnection   = "connection"
	errorCodeInvalidCert     = "invalid_cert"
	errorCodeInvalidMacaroon = "invalid_macaroon"
	errorCodeDial            = "dial"
)

var (
	errMissingAddress   = errors.New("lnd address is empty")
	errMissingMacaroon  = errors.New("lnd macaroon is empty")
	errMissingPreimage  = errors.New("no preimage in payment response")
	errPaymentNotFinish = errors.New("payment stream closed before a final state")
)

// Options identify the node.
type Options struct {
	Address     string
	CertHex     string
	MacaroonHex string
}

type lightningClient interface {
	AddInvoice(ctx context.Context, in *lnrpc.Invoice, opts ...grpc.CallOption) (*lnrpc.AddInvoiceResponse, error)
	SubscribeInvoices(ctx context.Context, in *lnrpc.InvoiceSubscription, opts ...grpc.CallOption) (lnrpc.Lightning_SubscribeInvoicesClient, error)
	LookupInvoice(ctx context.Context, in *lnrpc.PaymentHash, opts ...grpc.CallOption) (*lnrpc.Invoice, error)
}

type routerClient interface {
	SendPaymentV2(ctx context.Context, in *routerrpc.SendPaymentRequest, opts ...grpc.CallOption) (routerrpc.Router_SendPaymentV2Client, error)
}

// Client implements gateway.NodeClient.
type Client struct {
	connection       *grpc.ClientConn
	lightning        lightningClient
	router           routerClient
	decoder          ledger.InvoiceDecoder
	logger           *zap.Logger
	resubscribeDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithResubscribeDelay sets the pause before a dropped invoice stream is
// reopened.
func WithResubscribeDelay(delay time.Duration) Option {
	return func(client *Client) {
		if delay > 0 {
			client.resubscribeDelay = delay
		}
	}
}

// Dial connects to the node. The decoder is used to size the routing fee
// reserve of outgoing payments.
func Dial(options Options, decoder ledger.InvoiceDecoder, clientOptions ...Option) (*Client, error) {
	if strings.TrimSpace(options.Address) == "" {
		return nil, fmt.Errorf("%w: %w", ledger.ErrInvalidServiceConfig, errMissingAddress)
	}
	if strings.TrimSpace(options.MacaroonHex) == "" {
		return nil, fmt.Errorf("%w: %w", ledger.ErrInvalidServiceConfig, errMissingMacaroon)
	}
	transport, err := transportCredentials(options.CertHex)
	if err != nil {
		return nil, ledger.WrapError(errorOperationLightning, errorSubjectConnection, errorCodeInvalidCert, err)
	}
	macaroon, err := newMacaroonCredential(options.MacaroonHex)
	if err != nil {
		return nil, ledger.WrapError(errorOperationLightning, errorSubjectConnection, errorCodeInvalidMacaroon, err)
	}
	connection, err := grpc.NewClient(options.Address,
		grpc.WithTransportCredentials(transport),
		grpc.WithPerRPCCredentials(macaroon),
	)
	if err != nil {
		return nil, ledger.WrapError(errorOperationLightning, errorSubjectConnection, errorCodeDial, err)
	}
	client := newClient(lnrpc.NewLightningClient(connection), routerrpc.NewRouterClient(connection), decoder, clientOptions...)
	client.connection = connection
	return client, nil
}

func newClient(lightning lightningClient, router routerClient, decoder ledger.InvoiceDecoder, options ...Option) *Client {
	client := &Client{
		lightning:        lightning,
		router:           router,
		decoder:          decoder,
		logger:           zap.NewNop(),
		resubscribeDelay: defaultResubscribeDelay,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Close releases the gRPC connection.
func (client *Client) Close() error {
	if client.connection == nil {
		return nil
	}
	return client.connection.Close()
}

func (client *Client) CreateInvoice(ctx context.Context, msats int64) (string, error) {
	response, err := client.lightning.AddInvoice(ctx, &lnrpc.Invoice{ValueMsat: msats})
	if err != nil {
		client.logger.Error("failed to create invoice", zap.Int64("msats", msats), zap.Error(err))
		return "", err
	}
	return response.PaymentRequest, nil
}

func (client *Client) PayInvoice(ctx context.Context, bolt11 string, requestID string) (gateway.Payment, error) {
	request := &routerrpc.SendPaymentRequest{
		PaymentRequest: bolt11,
		MaxParts:       maxPaymentParts,
		TimeoutSeconds: paymentTimeoutSeconds,
	}
	if client.decoder != nil {
		invoice, err := client.decoder.Decode(bolt11)
		if err != nil {
			return gateway.Payment{}, err
		}
		request.FeeLimitMsat = feeReserveMsats(invoice.Msats)
	}
	stream, err := client.router.SendPaymentV2(ctx, request)
	if err != nil {
		client.logger.Error("send payment failed", zap.String("request_id", requestID), zap.Error(err))
		return gateway.Payment{}, err
	}
	payment, err := finalPayment(stream)
	if err != nil {
		client.logger.Error("payment stream failed", zap.String("request_id", requestID), zap.Error(err))
		return gateway.Payment{}, err
	}
	if payment.Status != lnrpc.Payment_SUCCEEDED {
		reason := payment.FailureReason.String()
		client.logger.Warn("payment not successful", zap.String("request_id", requestID), zap.String("reason", reason))
		return gateway.Payment{}, errors.New(reason)
	}
	if payment.PaymentPreimage == "" {
		return gateway.Payment{}, errMissingPreimage
	}
	return gateway.Payment{
		Preimage:  payment.PaymentPreimage,
		PaidMsats: payment.ValueMsat + payment.FeeMsat,
	}, nil
}

func finalPayment(stream routerrpc.Router_SendPaymentV2Client) (*lnrpc.Payment, error) {
	for {
		payment, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		if payment == nil {
			return nil, errPaymentNotFinish
		}
		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED, lnrpc.Payment_FAILED:
			return payment, nil
		}
	}
}

// SubscribeSettled streams settled invoices into handler until ctx is done.
// A dropped stream is reopened from the last settle index seen. Each time a
// stream opens, the hashes returned by pending are looked up so invoices
// settled while no stream was open are still delivered.
func (client *Client) SubscribeSettled(ctx context.Context, handler gateway.IncomingPaymentHandler, pending func() []string) {
	var settleIndex uint64
	for {
		stream, err := client.lightning.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{SettleIndex: settleIndex})
		if err != nil {
			client.logger.Error("error subscribing to invoices", zap.Error(err))
		} else {
			settleIndex = client.replayPending(ctx, pending, handler, settleIndex)
			settleIndex = client.drainInvoices(ctx, stream, handler, settleIndex)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(client.resubscribeDelay):
		}
	}
}

func (client *Client) replayPending(ctx context.Context, pending func() []string, handler gateway.IncomingPaymentHandler, settleIndex uint64) uint64 {
	if pending == nil {
		return settleIndex
	}
	for _, paymentHash := range pending() {
		raw, err := hex.DecodeString(paymentHash)
		if err != nil {
			client.logger.Warn("pending payment hash is not hex", zap.String("payment_hash", paymentHash))
			continue
		}
		invoice, err := client.lightning.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: raw})
		if err != nil {
			client.logger.Warn("lookup pending invoice", zap.String("payment_hash", paymentHash), zap.Error(err))
			continue
		}
		settleIndex = client.deliverSettled(ctx, invoice, handler, settleIndex)
	}
	return settleIndex
}

func (client *Client) drainInvoices(ctx context.Context, stream lnrpc.Lightning_SubscribeInvoicesClient, handler gateway.IncomingPaymentHandler, settleIndex uint64) uint64 {
	for {
		invoice, err := stream.Recv()
		if err != nil {
			if ctx.Err() == nil {
				client.logger.Warn("invoice stream closed", zap.Error(err))
			}
			return settleIndex
		}
		settleIndex = client.deliverSettled(ctx, invoice, handler, settleIndex)
	}
}

func (client *Client) deliverSettled(ctx context.Context, invoice *lnrpc.Invoice, handler gateway.IncomingPaymentHandler, settleIndex uint64) uint64 {
	if invoice.State != lnrpc.Invoice_SETTLED {
		return settleIndex
	}
	if invoice.SettleIndex > settleIndex {
		settleIndex = invoice.SettleIndex
	}
	preimage := hex.EncodeToString(invoice.RPreimage)
	if err := handler(ctx, preimage, invoice.AmtPaidMsat); err != nil {
		client.logger.Warn("settled invoice not credited", zap.String("preimage", preimage), zap.Error(err))
	}
	return settleIndex
}

func feeReserveMsats(msats int64) int64 {
	reserve := msats / feeReserveDivisor
	if reserve < minimumFeeReserveMsats {
		return minimumFeeReserveMsats
	}
	return reserve
}

func transportCredentials(certHex string) (credentials.TransportCredentials, error) {
	if strings.TrimSpace(certHex) == "" {
		return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}), nil
	}
	certPEM, err := hex.DecodeString(strings.TrimSpace(certHex))
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("no certificate found in lnd cert")
	}
	return credentials.NewClientTLSFromCert(pool, ""), nil
}

type macaroonCredential struct {
	macaroonHex string
}

func newMacaroonCredential(macaroonHex string) (macaroonCredential, error) {
	trimmed := strings.TrimSpace(macaroonHex)
	if _, err := hex.DecodeString(trimmed); err != nil {
		return macaroonCredential{}, err
	}
	return macaroonCredential{macaroonHex: trimmed}, nil
}

func (credential macaroonCredential) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{macaroonMetadataKey: credential.macaroonHex}, nil
}

func (macaroonCredential) RequireTransportSecurity() bool {
	return true
}
