package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakePaymentStream struct {
	grpc.ClientStream
	updates []*lnrpc.Payment
}

func (stream *fakePaymentStream) Recv() (*lnrpc.Payment, error) {
	if len(stream.updates) == 0 {
		return nil, io.EOF
	}
	next := stream.updates[0]
	stream.updates = stream.updates[1:]
	return next, nil
}

type fakeInvoiceStream struct {
	grpc.ClientStream
	ctx      context.Context
	invoices []*lnrpc.Invoice
}

func (stream *fakeInvoiceStream) Recv() (*lnrpc.Invoice, error) {
	if len(stream.invoices) == 0 {
		<-stream.ctx.Done()
		return nil, stream.ctx.Err()
	}
	next := stream.invoices[0]
	stream.invoices = stream.invoices[1:]
	return next, nil
}

type fakeLightning struct {
	mutex         sync.Mutex
	invoice       *lnrpc.Invoice
	invoiceError  error
	subscriptions []*lnrpc.InvoiceSubscription
	settled       []*lnrpc.Invoice
	lookups       map[string]*lnrpc.Invoice
}

func (lightning *fakeLightning) AddInvoice(_ context.Context, in *lnrpc.Invoice, _ ...grpc.CallOption) (*lnrpc.AddInvoiceResponse, error) {
	lightning.invoice = in
	if lightning.invoiceError != nil {
		return nil, lightning.invoiceError
	}
	return &lnrpc.AddInvoiceResponse{PaymentRequest: "lnbcrt1invoice"}, nil
}

func (lightning *fakeLightning) SubscribeInvoices(ctx context.Context, in *lnrpc.InvoiceSubscription, _ ...grpc.CallOption) (lnrpc.Lightning_SubscribeInvoicesClient, error) {
	lightning.mutex.Lock()
	defer lightning.mutex.Unlock()
	lightning.subscriptions = append(lightning.subscriptions, in)
	return &fakeInvoiceStream{ctx: ctx, invoices: lightning.settled}, nil
}

func (lightning *fakeLightning) LookupInvoice(_ context.Context, in *lnrpc.PaymentHash, _ ...grpc.CallOption) (*lnrpc.Invoice, error) {
	lightning.mutex.Lock()
	defer lightning.mutex.Unlock()
	invoice, ok := lightning.lookups[hex.EncodeToString(in.RHash)]
	if !ok {
		return nil, errors.New("unable to locate invoice")
	}
	return invoice, nil
}

type fakeRouter struct {
	request *routerrpc.SendPaymentRequest
	updates []*lnrpc.Payment
	err     error
}

func (router *fakeRouter) SendPaymentV2(_ context.Context, in *routerrpc.SendPaymentRequest, _ ...grpc.CallOption) (routerrpc.Router_SendPaymentV2Client, error) {
	router.request = in
	if router.err != nil {
		return nil, router.err
	}
	return &fakePaymentStream{updates: router.updates}, nil
}

func fixedDecoder(msats int64) ledger.InvoiceDecoder {
	return ledger.InvoiceDecoderFunc(func(bolt11 string) (ledger.Invoice, error) {
		return ledger.Invoice{Bolt11: bolt11, Msats: msats, HasAmount: true}, nil
	})
}

func TestCreateInvoice(test *testing.T) {
	test.Parallel()
	lightning := &fakeLightning{}
	client := newClient(lightning, &fakeRouter{}, nil)
	bolt11, err := client.CreateInvoice(context.Background(), 21_000)
	require.NoError(test, err)
	require.Equal(test, "lnbcrt1invoice", bolt11)
	require.Equal(test, int64(21_000), lightning.invoice.ValueMsat)

	lightning.invoiceError = errors.New("wallet locked")
	_, err = client.CreateInvoice(context.Background(), 1)
	require.EqualError(test, err, "wallet locked")
}

func TestPayInvoiceWaitsForFinalState(test *testing.T) {
	test.Parallel()
	router := &fakeRouter{updates: []*lnrpc.Payment{
		{Status: lnrpc.Payment_IN_FLIGHT},
		{Status: lnrpc.Payment_SUCCEEDED, PaymentPreimage: "ab", ValueMsat: 5_000_000, FeeMsat: 1_200},
	}}
	client := newClient(&fakeLightning{}, router, fixedDecoder(5_000_000))
	payment, err := client.PayInvoice(context.Background(), "lnbcrt50u1", "request-1")
	require.NoError(test, err)
	require.Equal(test, "ab", payment.Preimage)
	require.Equal(test, int64(5_001_200), payment.PaidMsats)
	require.Equal(test, "lnbcrt50u1", router.request.PaymentRequest)
	require.Equal(test, int64(50_000), router.request.FeeLimitMsat)
}

func TestPayInvoiceFailures(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		router  *fakeRouter
		wantErr string
	}{
		{name: "send", router: &fakeRouter{err: errors.New("router offline")}, wantErr: "router offline"},
		{name: "failed", router: &fakeRouter{updates: []*lnrpc.Payment{{Status: lnrpc.Payment_FAILED, FailureReason: lnrpc.PaymentFailureReason_FAILURE_REASON_NO_ROUTE}}}, wantErr: "FAILURE_REASON_NO_ROUTE"},
		{name: "no preimage", router: &fakeRouter{updates: []*lnrpc.Payment{{Status: lnrpc.Payment_SUCCEEDED}}}, wantErr: errMissingPreimage.Error()},
		{name: "stream closed", router: &fakeRouter{updates: []*lnrpc.Payment{{Status: lnrpc.Payment_IN_FLIGHT}}}, wantErr: io.EOF.Error()},
	}
	for _, testCase := range testCases {
		client := newClient(&fakeLightning{}, testCase.router, nil)
		_, err := client.PayInvoice(context.Background(), "lnbcrt1", "request")
		require.EqualError(test, err, testCase.wantErr, testCase.name)
	}
}

func TestSubscribeSettledDeliversPreimages(test *testing.T) {
	test.Parallel()
	preimage := make([]byte, 32)
	preimage[0] = 0xab
	lightning := &fakeLightning{settled: []*lnrpc.Invoice{
		{State: lnrpc.Invoice_OPEN, AmtPaidMsat: 1},
		{State: lnrpc.Invoice_SETTLED, RPreimage: preimage, AmtPaidMsat: 7_000, SettleIndex: 4},
	}}
	client := newClient(lightning, &fakeRouter{}, nil, WithResubscribeDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	type settlement struct {
		preimage string
		msats    int64
	}
	received := make(chan settlement, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.SubscribeSettled(ctx, func(_ context.Context, preimage string, msats int64) error {
			received <- settlement{preimage: preimage, msats: msats}
			return nil
		}, nil)
	}()

	select {
	case got := <-received:
		require.Equal(test, hex.EncodeToString(preimage), got.preimage)
		require.Equal(test, int64(7_000), got.msats)
	case <-time.After(time.Second):
		test.Fatalf("settled invoice not delivered")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		test.Fatalf("subscription did not stop")
	}
}

func TestSubscribeSettledReplaysInvoicesSettledBeforeSubscribing(test *testing.T) {
	test.Parallel()
	settledHash := strings.Repeat("11", 32)
	openHash := strings.Repeat("22", 32)
	missingHash := strings.Repeat("33", 32)
	preimage := make([]byte, 32)
	preimage[31] = 0x01
	lightning := &fakeLightning{lookups: map[string]*lnrpc.Invoice{
		settledHash: {State: lnrpc.Invoice_SETTLED, RPreimage: preimage, AmtPaidMsat: 9_000, SettleIndex: 12},
		openHash:    {State: lnrpc.Invoice_OPEN},
	}}
	client := newClient(lightning, &fakeRouter{}, nil, WithResubscribeDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	type settlement struct {
		preimage string
		msats    int64
	}
	received := make(chan settlement, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.SubscribeSettled(ctx, func(_ context.Context, preimage string, msats int64) error {
			received <- settlement{preimage: preimage, msats: msats}
			return nil
		}, func() []string {
			return []string{"not-hex", openHash, missingHash, settledHash}
		})
	}()

	select {
	case got := <-received:
		require.Equal(test, hex.EncodeToString(preimage), got.preimage)
		require.Equal(test, int64(9_000), got.msats)
	case <-time.After(time.Second):
		test.Fatalf("invoice settled before subscribing was not delivered")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		test.Fatalf("subscription did not stop")
	}
	require.Empty(test, received)
}

func TestFeeReserve(test *testing.T) {
	test.Parallel()
	require.Equal(test, int64(minimumFeeReserveMsats), feeReserveMsats(1_000))
	require.Equal(test, int64(100_000), feeReserveMsats(10_000_000))
}

func TestDialValidatesOptions(test *testing.T) {
	test.Parallel()
	_, err := Dial(Options{MacaroonHex: "00"}, nil)
	require.ErrorIs(test, err, ledger.ErrInvalidServiceConfig)
	_, err = Dial(Options{Address: "127.0.0.1:10009"}, nil)
	require.ErrorIs(test, err, ledger.ErrInvalidServiceConfig)
	_, err = Dial(Options{Address: "127.0.0.1:10009", MacaroonHex: "zz"}, nil)
	require.Error(test, err)
	_, err = Dial(Options{Address: "127.0.0.1:10009", MacaroonHex: "00", CertHex: "00"}, nil)
	require.Error(test, err)

	client, err := Dial(Options{Address: "127.0.0.1:10009", MacaroonHex: "0201"}, nil)
	require.NoError(test, err)
	require.NoError(test, client.Close())
}

func TestMacaroonCredential(test *testing.T) {
	test.Parallel()
	credential, err := newMacaroonCredential(" 0201 ")
	require.NoError(test, err)
	metadata, err := credential.GetRequestMetadata(context.Background())
	require.NoError(test, err)
	require.Equal(test, map[string]string{"macaroon": "0201"}, metadata)
	require.True(test, credential.RequireTransportSecurity())
}
