// Package billing is the only caller of the payment gateway. It cancels a
// group's recurring payment, runs the recurring charges and folds
// asynchronous gateway events back into payments.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"familybook/internal/apperr"
	"familybook/internal/domain/billing"
	"familybook/internal/domain/issues"
	"familybook/internal/logging"
	"familybook/internal/metrics"
	"familybook/internal/service/grouplock"
	"familybook/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Gateway interface {
	Charge(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error)
	Cancel(ctx context.Context, req billing.CancelRequest) (billing.CancelResult, error)
}

type Coordinator struct {
	db            *gorm.DB
	gateway       Gateway
	locks         *grouplock.Locker
	timeout       time.Duration
	commitTimeout time.Duration
	commitRetries int
	retryDelay    time.Duration
	now           func() time.Time
	loc           *time.Location
}

type Option func(*Coordinator)

// WithTimeout bounds every gateway call.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) { c.loc = loc }
}

// WithLocker shares the per-group lock with the other services that write
// a group's rows.
func WithLocker(l *grouplock.Locker) Option {
	return func(c *Coordinator) { c.locks = l }
}

// WithCommitRetry sets how often a local update is retried after the
// gateway already confirmed a cancellation.
func WithCommitRetry(retries int, delay time.Duration) Option {
	return func(c *Coordinator) {
		c.commitRetries = retries
		c.retryDelay = delay
	}
}

func New(db *gorm.DB, gateway Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:            db,
		gateway:       gateway,
		locks:         grouplock.New(),
		timeout:       10 * time.Second,
		commitTimeout: 15 * time.Second,
		commitRetries: 3,
		retryDelay:    200 * time.Millisecond,
		now:           time.Now,
		loc:           time.UTC,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) today() time.Time {
	return issues.DateOf(c.now().In(c.loc))
}

// Billable reports whether the group holds an active subscription that has
// not run past its end date.
func (c *Coordinator) Billable(ctx context.Context, groupID string) (bool, error) {
	sub, err := store.ActiveSubscription(c.db.WithContext(ctx), groupID)
	if err != nil || sub == nil {
		return false, err
	}
	return sub.Billable(c.today()), nil
}

// Cancel stops the group's recurring payment. It never returns an error:
// every outcome, including gateway failure, is described by the report.
func (c *Coordinator) Cancel(ctx context.Context, groupID, reason string) billing.CancelReport {
	log := logging.With(logrus.Fields{"group_id": groupID})

	unlock := c.locks.Lock(groupID)
	defer unlock()

	sub, err := store.ActiveSubscription(c.db.WithContext(ctx), groupID)
	if err != nil {
		log.WithError(err).Error("cancel: failed to load subscription")
		return billing.CancelReport{PaymentCancelStatus: billing.CancelFailed, Error: err.Error()}
	}
	if sub == nil {
		return billing.CancelReport{Reason: billing.ReasonNoActiveSubscription}
	}
	log = log.WithField("subscription_id", sub.ID)
	report := billing.CancelReport{SubscriptionID: sub.ID}

	payment, err := store.LastSuccessfulPayment(c.db.WithContext(ctx), sub.ID)
	if err != nil {
		log.WithError(err).Error("cancel: failed to load payment")
		report.PaymentCancelStatus = billing.CancelFailed
		report.Error = err.Error()
		return report
	}

	if payment == nil {
		report.PaymentCancelStatus = billing.CancelNoPayment
		c.commitCancel(ctx, log, &report, sub, nil, reason, 0)
		report.Cancelled = report.LocalCommitted
		return report
	}

	report.GatewayCalled = true
	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	res, err := c.gateway.Cancel(gctx, billing.CancelRequest{
		TransactionID:  *payment.TransactionID,
		Amount:         payment.Amount,
		Reason:         reason,
		IdempotencyKey: billing.CancelKey(payment.ID),
	})
	cancel()

	status, code := classifyCancel(res, err)
	metrics.GatewayCalls.WithLabelValues("cancel", string(status)).Inc()
	report.GatewayCode = code

	if status == billing.GatewayFailed {
		report.PaymentCancelStatus = billing.CancelFailed
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Error = "gateway refused cancellation: " + code
		}
		log.WithFields(logrus.Fields{"code": code}).WithError(err).Warn("gateway cancellation failed")
		return report
	}

	report.GatewayConfirmed = true
	report.Cancelled = true
	refund := res.RefundAmount
	report.PaymentCancelStatus = billing.CancelSucceeded
	if status == billing.GatewayAlreadyCancelled {
		report.PaymentCancelStatus = billing.CancelAlreadyCancelled
		refund = 0
	}
	report.RefundAmount = refund

	// the gateway has already stopped the payment; a caller that goes away
	// now must not leave the subscription active locally
	cctx, cancelCommit := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancelCommit()
	c.commitCancel(cctx, log, &report, sub, payment, reason, refund)
	log.WithFields(logrus.Fields{
		"status":          report.PaymentCancelStatus,
		"refund_amount":   refund,
		"local_committed": report.LocalCommitted,
	}).Info("subscription cancelled")
	return report
}

func classifyCancel(res billing.CancelResult, err error) (billing.GatewayStatus, string) {
	if err != nil {
		var gerr *billing.GatewayError
		if errors.As(err, &gerr) {
			return gerr.Status, gerr.Code
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return billing.GatewayFailed, "timeout"
		}
		return billing.GatewayFailed, "gateway_error"
	}
	if res.Status == "" {
		return billing.GatewayFailed, "empty_status"
	}
	return res.Status, res.Code
}

// commitCancel writes the local side of a cancellation. It does not call
// the gateway again; a failing commit is retried a bounded number of times
// and then left in the report.
func (c *Coordinator) commitCancel(ctx context.Context, log *logrus.Entry, report *billing.CancelReport,
	sub *billing.Subscription, payment *billing.Payment, reason string, refund int64) {

	var err error
retry:
	for attempt := 0; ; attempt++ {
		if err = c.markCancelled(ctx, sub, payment, reason, refund); err == nil {
			report.LocalCommitted = true
			return
		}
		if attempt >= c.commitRetries {
			break
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("retrying local cancellation commit")
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
			break retry
		}
	}
	report.LocalError = err.Error()
	log.WithError(err).Error("local cancellation commit failed")
}

func (c *Coordinator) markCancelled(ctx context.Context, sub *billing.Subscription, payment *billing.Payment, reason string, refund int64) error {
	now := c.now()
	today := c.today()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&billing.Subscription{}).
			Where("id = ? AND status = ?", sub.ID, billing.SubscriptionActive).
			Updates(map[string]any{
				"status":            billing.SubscriptionCancelled,
				"cancel_reason":     reason,
				"cancelled_at":      now,
				"end_date":          today,
				"next_billing_date": nil,
				"refund_amount":     refund,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
		if payment == nil {
			return nil
		}
		err = tx.Model(&billing.Payment{}).
			Where("id = ? AND status = ?", payment.ID, billing.PaymentSuccess).
			Updates(map[string]any{
				"status":        billing.PaymentRefunded,
				"refunded_at":   now,
				"refund_amount": refund,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to mark payment refunded: %w", err)
		}
		return nil
	})
}

// ChargeDue charges every active subscription whose billing date has come.
func (c *Coordinator) ChargeDue(ctx context.Context, today time.Time) billing.ChargeReport {
	var report billing.ChargeReport
	today = issues.DateOf(today)

	subs, err := store.ActiveSubscriptions(c.db.WithContext(ctx))
	if err != nil {
		logging.Logger.WithError(err).Error("charge run: failed to list subscriptions")
		return report
	}
	for _, sub := range subs {
		if !sub.Due(today) {
			continue
		}
		report.Due++
		_, created, err := c.charge(ctx, sub.ID, issues.DateOf(*sub.NextBillingDate))
		switch {
		case err != nil:
			report.Failed++
			logging.With(logrus.Fields{"subscription_id": sub.ID}).WithError(err).Warn("recurring charge failed")
		case !created:
			report.Skipped++
		default:
			report.Succeeded++
		}
	}

	logging.With(logrus.Fields{
		"date":      today.Format("2006-01-02"),
		"due":       report.Due,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
	}).Info("recurring charges run")
	return report
}

// Charge bills one period of a subscription. A period that is already
// settled returns its payment without calling the gateway. A declined
// period is attempted again under a new idempotency key, up to
// MaxChargeAttempts; after that the subscription expires.
func (c *Coordinator) Charge(ctx context.Context, subscriptionID string, billingDate time.Time) (*billing.Payment, error) {
	p, _, err := c.charge(ctx, subscriptionID, issues.DateOf(billingDate))
	return p, err
}

func (c *Coordinator) charge(ctx context.Context, subscriptionID string, billingDate time.Time) (*billing.Payment, bool, error) {
	db := c.db.WithContext(ctx)
	sub, err := store.FindSubscription(db, subscriptionID)
	if err != nil {
		return nil, false, err
	}

	unlock := c.locks.Lock(sub.GroupID)
	defer unlock()

	// re-read under the group lock; a cancel may have won the race
	sub, err = store.FindSubscription(db, subscriptionID)
	if err != nil {
		return nil, false, err
	}

	latest, attempt, err := lastChargeAttempt(db, sub.ID, billingDate)
	if err != nil {
		return nil, false, err
	}
	var payment *billing.Payment
	switch {
	case latest == nil:
		attempt = 1
	case latest.Status == billing.PaymentSuccess || latest.Status == billing.PaymentRefunded:
		return latest, false, c.settlePeriod(db, sub, billingDate)
	case latest.Status == billing.PaymentPending:
		// the gateway answer never made it into the row; the same key
		// replays it
		payment = latest
	case attempt >= billing.MaxChargeAttempts:
		if err := c.expire(db, sub); err != nil {
			return latest, false, err
		}
		return latest, false, attemptsExhausted(billingDate)
	default:
		attempt++
	}

	if sub.Status != billing.SubscriptionActive {
		return nil, false, apperr.Precondition("subscription_inactive", "subscription is not active")
	}
	if sub.GatewayCustomerKey == nil || sub.GatewayPaymentMethod == nil {
		return nil, false, apperr.Precondition("payment_method_missing", "subscription has no payment method")
	}

	if payment == nil {
		payment = &billing.Payment{
			SubscriptionID: sub.ID,
			IdempotencyKey: billing.ChargeAttemptKey(sub.ID, billingDate, attempt),
			Amount:         sub.Amount,
			Currency:       sub.Currency,
			Status:         billing.PaymentPending,
		}
		if err := db.Create(payment).Error; err != nil {
			// lost a race on the idempotency key
			if existing, ferr := store.PaymentByKey(db, payment.IdempotencyKey); ferr == nil && existing != nil {
				return existing, false, nil
			}
			return nil, false, fmt.Errorf("failed to record payment: %w", err)
		}
	}

	log := logging.With(logrus.Fields{"subscription_id": sub.ID, "payment_id": payment.ID, "attempt": attempt})
	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	res, gerr := c.gateway.Charge(gctx, billing.ChargeRequest{
		SubscriptionID: sub.ID,
		CustomerKey:    *sub.GatewayCustomerKey,
		PaymentMethod:  *sub.GatewayPaymentMethod,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		IdempotencyKey: payment.IdempotencyKey,
	})
	cancel()

	if gerr != nil || res.Status == billing.PaymentFailed {
		code := res.Code
		var ge *billing.GatewayError
		if errors.As(gerr, &ge) {
			code = ge.Code
		} else if errors.Is(gerr, context.DeadlineExceeded) {
			code = "timeout"
		}
		if code == "" {
			code = "charge_failed"
		}
		metrics.GatewayCalls.WithLabelValues("charge", string(billing.GatewayFailed)).Inc()

		updates := map[string]any{"status": billing.PaymentFailed, "failure_reason": code}
		if res.TransactionID != "" {
			updates["transaction_id"] = res.TransactionID
		}
		if err := db.Model(payment).Updates(updates).Error; err != nil {
			log.WithError(err).Error("failed to record failed charge")
		}
		log.WithField("code", code).WithError(gerr).Warn("charge failed")
		if attempt >= billing.MaxChargeAttempts {
			if err := c.expire(db, sub); err != nil {
				log.WithError(err).Error("failed to expire subscription")
			}
		}
		return payment, true, apperr.Dependency("charge_failed", "recurring charge failed", errors.Join(gerr, errors.New(code)))
	}
	metrics.GatewayCalls.WithLabelValues("charge", string(billing.GatewaySucceeded)).Inc()

	now := c.now()
	err = db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"transaction_id": res.TransactionID, "status": res.Status}
		if res.Status == billing.PaymentSuccess {
			updates["paid_at"] = now
		}
		if err := tx.Model(payment).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to record charge: %w", err)
		}
		return c.settlePeriod(tx, sub, billingDate)
	})
	if err != nil {
		// the row stays pending; the next run replays the same key
		log.WithError(err).Error("charge succeeded at gateway but local update failed")
		return payment, true, err
	}

	if err := db.Where("id = ?", payment.ID).First(payment).Error; err != nil {
		return nil, true, fmt.Errorf("failed to reload payment: %w", err)
	}
	log.WithField("transaction_id", res.TransactionID).Info("charge recorded")
	return payment, true, nil
}

// lastChargeAttempt returns the newest payment recorded for the billing
// period and its attempt number.
func lastChargeAttempt(db *gorm.DB, subscriptionID string, billingDate time.Time) (*billing.Payment, int, error) {
	var latest *billing.Payment
	attempt := 0
	for n := 1; n <= billing.MaxChargeAttempts; n++ {
		p, err := store.PaymentByKey(db, billing.ChargeAttemptKey(subscriptionID, billingDate, n))
		if err != nil {
			return nil, 0, err
		}
		if p == nil {
			break
		}
		latest, attempt = p, n
	}
	return latest, attempt, nil
}

// settlePeriod moves next_billing_date past a paid period. It is a no-op
// once the date has moved on or the subscription is no longer active.
func (c *Coordinator) settlePeriod(db *gorm.DB, sub *billing.Subscription, billingDate time.Time) error {
	if sub.Status != billing.SubscriptionActive || sub.NextBillingDate == nil ||
		issues.DateOf(*sub.NextBillingDate).After(billingDate) {
		return nil
	}
	err := db.Model(&billing.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, billing.SubscriptionActive).
		Update("next_billing_date", billingDate.AddDate(0, 1, 0)).Error
	if err != nil {
		return fmt.Errorf("failed to advance billing date: %w", err)
	}
	return nil
}

// expire ends a subscription whose period could not be charged.
func (c *Coordinator) expire(db *gorm.DB, sub *billing.Subscription) error {
	res := db.Model(&billing.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, billing.SubscriptionActive).
		Updates(map[string]any{
			"status":            billing.SubscriptionExpired,
			"end_date":          c.today(),
			"next_billing_date": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to expire subscription: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logging.With(logrus.Fields{"subscription_id": sub.ID, "group_id": sub.GroupID}).
			Warn("charge attempts exhausted, subscription expired")
	}
	return nil
}

func attemptsExhausted(billingDate time.Time) error {
	return apperr.Precondition("charge_attempts_exhausted",
		fmt.Sprintf("%d charge attempts for %s were declined", billing.MaxChargeAttempts, billingDate.Format("2006-01-02")))
}

// RecordGatewayEvent applies an asynchronous payment status from the
// gateway. Refunded payments are final and never regress.
func (c *Coordinator) RecordGatewayEvent(ctx context.Context, transactionID string, status billing.PaymentStatus) error {
	db := c.db.WithContext(ctx)
	payment, err := store.PaymentByTransaction(db, transactionID)
	if err != nil {
		return err
	}
	if payment.Status == status || payment.Status == billing.PaymentRefunded {
		return nil
	}

	updates := map[string]any{"status": status}
	switch status {
	case billing.PaymentSuccess:
		if payment.PaidAt == nil {
			updates["paid_at"] = c.now()
		}
	case billing.PaymentRefunded:
		updates["refunded_at"] = c.now()
		updates["refund_amount"] = payment.Amount
	case billing.PaymentFailed:
		updates["failure_reason"] = "gateway_event"
	}
	err = db.Model(&billing.Payment{}).
		Where("id = ? AND status <> ?", payment.ID, billing.PaymentRefunded).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to record gateway event: %w", err)
	}
	logging.With(logrus.Fields{"payment_id": payment.ID, "status": status}).Info("gateway event recorded")
	return nil
}
