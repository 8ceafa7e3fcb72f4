package gateway

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"go.uber.org/zap"
)

// OnAnnounce is called by the provider stack when a client channel comes up.
func (gateway *Gateway) OnAnnounce(ctx context.Context, nexus Nexus) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	seed := nexus.SharedSeed()
	gateway.tracker.SetConnected(seed)
	account, err := gateway.lookupSeed(seed)
	if err != nil {
		return err
	}
	gateway.logger.Info("announce", zap.String("account", account.Name()), zap.String("shared_seed", seed.String()))
	return account.NewSession(ctx, seed)
}

// OnRevoke is called by the provider stack when a client channel goes down.
func (gateway *Gateway) OnRevoke(ctx context.Context, nexus Nexus) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	seed := nexus.SharedSeed()
	gateway.tracker.SetDisconnected(seed)
	account, err := gateway.lookupSeed(seed)
	if err != nil {
		return err
	}
	gateway.logger.Info("revoke", zap.String("account", account.Name()), zap.String("shared_seed", seed.String()))
	if err := account.EndSession(ctx, seed); err != nil {
		gateway.logger.Warn("end session", zap.String("account", account.Name()), zap.Error(err))
		return err
	}
	return nil
}

// HandleProviderInfoRequest reports the account bound to seed.
func (gateway *Gateway) HandleProviderInfoRequest(_ context.Context, seed ledger.SharedSeed) (ledger.ProviderInfo, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	account, err := gateway.lookupSeed(seed)
	if err != nil {
		return ledger.ProviderInfo{}, err
	}
	return account.ProviderInfo(), nil
}

// HandleInvoiceRequest asks the node for an invoice on behalf of the account
// bound to the requesting channel. The cap must cover the balance, every
// pending invoice and the new amount.
func (gateway *Gateway) HandleInvoiceRequest(ctx context.Context, nexus Nexus, msats int64, requestID string) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	seed := nexus.SharedSeed()
	account, err := gateway.lookupSeed(seed)
	if err != nil {
		return err
	}
	seeds := account.AllSharedSeeds()
	if err := account.SessionInvoiceRequested(ctx, seed, ledger.Bitcoin(msats)); err != nil {
		return gateway.reject(ctx, account, seed, seeds, requestID, err.Error(), err)
	}
	if msats <= 0 {
		err := fmt.Errorf("%w: %d msats", ledger.ErrInvalidAmount, msats)
		return gateway.reject(ctx, account, seed, seeds, requestID, ledger.ErrInvalidAmount.Error(), err)
	}
	if !account.CapAllows(msats) {
		return gateway.reject(ctx, account, seed, seeds, requestID, ledger.ErrCapExceeded.Error(), ledger.ErrCapExceeded)
	}

	bolt11, err := gateway.node.CreateInvoice(ctx, msats)
	if err != nil {
		return gateway.reject(ctx, account, seed, seeds, requestID, err.Error(), ledger.CollaboratorError(collaboratorNode, err))
	}
	invoice, err := gateway.dependencies.Decoder.Decode(bolt11)
	if err != nil {
		return gateway.reject(ctx, account, seed, seeds, requestID, ledger.ErrInvalidInvoice.Error(), err)
	}
	if err := account.AddPending(ctx, invoice.PaymentHash, bolt11); err != nil {
		return gateway.reject(ctx, account, seed, seeds, requestID, err.Error(), err)
	}
	gateway.recordReceipt(account, account.SessionInvoiceNotified(ctx, seed, bolt11))
	gateway.reindex(account)
	if err := gateway.provider.NotifyInvoice(ctx, seeds, bolt11, requestID); err != nil {
		gateway.logger.Warn("notify invoice", zap.String("account", account.Name()), zap.Error(err))
	}
	return nil
}

// HandlePayRequest pays bolt11 from the balance of the account bound to the
// requesting channel. Once the node reports success the debit is applied no
// matter what happens to the notifications. The gateway lock stays held while
// the node pays, so every other callback waits for the payment to finish.
func (gateway *Gateway) HandlePayRequest(ctx context.Context, nexus Nexus, bolt11 string, requestID string) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	seed := nexus.SharedSeed()
	account, err := gateway.lookupSeed(seed)
	if err != nil {
		return err
	}
	seeds := account.AllSharedSeeds()

	invoice, err := gateway.dependencies.Decoder.Decode(bolt11)
	if err != nil {
		return gateway.reject(ctx, account, seed, seeds, requestID, ledger.ErrInvalidInvoice.Error(), err)
	}
	if !invoice.HasAmount {
		return gateway.reject(ctx, account, seed, seeds, requestID, ledger.ErrInvoiceMissingAmount.Error(), ledger.ErrInvoiceMissingAmount)
	}
	balance := account.Wad().Msats
	if invoice.Msats > balance {
		return gateway.reject(ctx, account, seed, seeds, requestID, ledger.ErrInsufficientBalance.Error(), ledger.ErrInsufficientBalance)
	}
	if err := account.SessionPayRequested(ctx, seed, bolt11, ledger.Bitcoin(invoice.Msats)); err != nil {
		return gateway.reject(ctx, account, seed, seeds, requestID, err.Error(), err)
	}

	payment, err := gateway.node.PayInvoice(ctx, bolt11, requestID)
	if err != nil {
		return gateway.reject(ctx, account, seed, seeds, requestID, err.Error(), ledger.CollaboratorError(collaboratorNode, err))
	}

	paidMsats := payment.PaidMsats
	if paidMsats > balance {
		gateway.logger.Warn("fee overrun absorbed",
			zap.String("account", account.Name()),
			zap.Int64("paid_msats", paidMsats),
			zap.Int64("balance_msats", balance))
		paidMsats = balance
	}
	if paidMsats < 0 {
		paidMsats = 0
	}
	debitErr := account.Debit(ctx, ledger.Bitcoin(paidMsats))
	if debitErr != nil {
		gateway.logger.Error("debit after settled payment failed",
			zap.String("account", account.Name()),
			zap.Int64("paid_msats", paidMsats),
			zap.Error(debitErr))
	}
	if err := gateway.provider.NotifyPreimage(ctx, seeds, payment.Preimage, requestID); err != nil {
		gateway.logger.Warn("notify preimage", zap.String("account", account.Name()), zap.Error(err))
	}
	for _, boundSeed := range seeds {
		gateway.recordReceipt(account, account.SessionPreimageNotified(ctx, boundSeed, payment.Preimage, false, ledger.Bitcoin(paidMsats)))
	}
	return debitErr
}

// HandleIncomingPayment settles the pending invoice whose payment hash
// matches preimage. Unknown and colliding hashes are logged and left alone.
func (gateway *Gateway) HandleIncomingPayment(ctx context.Context, preimage string, msats int64) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	received := ledger.Bitcoin(msats)
	gateway.logger.Info("node received payment", zap.String("preimage", preimage), zap.Stringer("wad", received))
	paymentHash, err := ledger.PaymentHashFromPreimage(preimage)
	if err != nil {
		gateway.logger.Error("incoming payment preimage", zap.Error(err))
		return err
	}
	accounts := gateway.directory.LookupByPaymentHash(paymentHash)
	switch {
	case len(accounts) > 1:
		names := make([]string, 0, len(accounts))
		for _, account := range accounts {
			names = append(names, account.Name())
		}
		gateway.logger.Error("can't deal with more than one account with a preimage collision yet",
			zap.String("payment_hash", paymentHash),
			zap.Strings("accounts", names))
		return fmt.Errorf("%w: %s", ledger.ErrPaymentHashCollision, paymentHash)
	case len(accounts) == 0:
		gateway.logger.Error("incoming payment not known", zap.String("payment_hash", paymentHash))
		return fmt.Errorf("%w: %s", ledger.ErrUnknownPaymentHash, paymentHash)
	}

	account := accounts[0]
	seeds := account.AllSharedSeeds()
	if err := account.SettlePending(ctx, paymentHash, received); err != nil {
		gateway.logger.Error("settle incoming payment", zap.String("account", account.Name()), zap.Error(err))
		return err
	}
	gateway.reindex(account)
	if err := gateway.provider.NotifyPreimage(ctx, seeds, preimage, ""); err != nil {
		gateway.logger.Warn("notify preimage", zap.String("account", account.Name()), zap.Error(err))
	}
	for _, boundSeed := range seeds {
		gateway.recordReceipt(account, account.SessionPreimageNotified(ctx, boundSeed, preimage, true, received))
	}
	return nil
}

// reject records message on the requesting session, fans it out to every
// bound seed and returns cause.
func (gateway *Gateway) reject(ctx context.Context, account *ledger.Account, seed ledger.SharedSeed, seeds []ledger.SharedSeed, requestID string, message string, cause error) error {
	gateway.logger.Info("provider error",
		zap.String("account", account.Name()),
		zap.String("request_id", requestID),
		zap.String("error", message))
	gateway.recordReceipt(account, account.SessionErrorNotified(ctx, seed, message))
	if err := gateway.provider.NotifyError(ctx, seeds, message, requestID); err != nil {
		gateway.logger.Warn("notify error", zap.String("account", account.Name()), zap.Error(err))
	}
	return cause
}

func (gateway *Gateway) recordReceipt(account *ledger.Account, err error) {
	if err == nil {
		return
	}
	gateway.logger.Error("record receipt", zap.String("account", account.Name()), zap.Error(err))
}
