package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"testing"

	"filamint/core/events"
	"filamint/core/types"
)

type mockState struct {
	escrows  map[[20]byte]*Escrow
	balances map[[20]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		escrows:  make(map[[20]byte]*Escrow),
		balances: make(map[[20]byte]*big.Int),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) EscrowGet(addr [20]byte) (*Escrow, bool, error) {
	esc, ok := m.escrows[addr]
	if !ok {
		return nil, false, nil
	}
	return esc.Clone(), true, nil
}

func (m *mockState) EscrowPut(e *Escrow) error {
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return err
	}
	m.escrows[e.Address] = sanitized
	return nil
}

func (m *mockState) Balance(addr [20]byte) (*big.Int, error) {
	return cloneBigInt(m.balances[addr]), nil
}

func (m *mockState) Transfer(from, to [20]byte, amount *big.Int) error {
	balance := cloneBigInt(m.balances[from])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[from] = balance.Sub(balance, amount)
	m.balances[to] = new(big.Int).Add(cloneBigInt(m.balances[to]), amount)
	return nil
}

func (m *mockState) balance(addr [20]byte) string {
	return cloneBigInt(m.balances[addr]).String()
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesEvents() []*types.Event {
	out := make([]*types.Event, 0, len(c.events))
	for _, evt := range c.events {
		if payload := events.Payload(evt); payload != nil {
			out = append(out, payload)
		}
	}
	return out
}

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

type testClock struct{ now int64 }

func (c *testClock) advance(seconds int64) { c.now += seconds }

var (
	testRegistry     = newTestAddress(0x01)
	testEscrowAddr   = newTestAddress(0x0E)
	testBuyer        = newTestAddress(0xB1)
	testSeller       = newTestAddress(0x5E)
	testArbiter      = newTestAddress(0xA0)
	testFeeRecipient = newTestAddress(0xFE)
	testOracle       = newTestAddress(0x0C)
	testStranger     = newTestAddress(0x77)
)

// testDeposit splits into order 1_000_000, fee 5_000 and cushion 20_000.
var testDeposit = big.NewInt(1_025_000)

type fixture struct {
	state   *mockState
	engine  *Engine
	clock   *testClock
	emitter *capturingEmitter
}

func newFixture(t *testing.T, oracle [20]byte) *fixture {
	t.Helper()
	state := newMockState()
	clock := &testClock{now: 1_700_000_000}
	emitter := &capturingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return clock.now })
	engine.SetEmitter(emitter)

	split, err := SplitDeposit(testDeposit, DefaultPremiumBps, DefaultFeeBps)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	esc := &Escrow{
		Address:      testEscrowAddr,
		Registry:     testRegistry,
		OrderID:      0,
		Buyer:        testBuyer,
		Arbiter:      testArbiter,
		FeeRecipient: testFeeRecipient,
		Oracle:       oracle,
		ContentHash:  [32]byte{0x42},
		Deposit:      new(big.Int).Set(testDeposit),
		OrderAmount:  split.OrderAmount,
		GasCushion:   split.GasCushion,
		FeeAmount:    split.FeeAmount,
		GasUsed:      big.NewInt(0),
		CreatedAt:    clock.now,
		Status:       StatusPending,
	}
	if err := state.EscrowPut(esc); err != nil {
		t.Fatalf("seed escrow: %v", err)
	}
	state.balances[testEscrowAddr] = new(big.Int).Set(testDeposit)
	return &fixture{state: state, engine: engine, clock: clock, emitter: emitter}
}

func (f *fixture) escrow(t *testing.T) *Escrow {
	t.Helper()
	esc, err := f.engine.Get(testEscrowAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return esc
}

func buyerCall() Call  { return Call{Caller: testBuyer} }
func sellerCall() Call { return Call{Caller: testSeller} }
func sellerCallWithCost(cost int64) Call {
	return Call{Caller: testSeller, TxCost: big.NewInt(cost)}
}

// deliver walks the escrow through claim, ship and delivery with no gas
// reimbursement.
func (f *fixture) deliver(t *testing.T) {
	t.Helper()
	if err := f.engine.Claim(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.engine.MarkShipped(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("mark shipped: %v", err)
	}
	if err := f.engine.ClaimDelivery(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim delivery: %v", err)
	}
}

func (f *fixture) openDispute(t *testing.T) {
	t.Helper()
	f.deliver(t)
	f.clock.advance(day)
	if err := f.engine.OpenDispute(testEscrowAddr, buyerCall()); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func requireConserved(t *testing.T, f *fixture) {
	t.Helper()
	esc := f.escrow(t)
	if !esc.Status.Terminal() {
		t.Fatalf("expected terminal status, got %s", esc.Status)
	}
	if got := f.state.balance(testEscrowAddr); got != "0" {
		t.Fatalf("expected empty custody, got %s", got)
	}
	if got := esc.Paid.Total(); got.Cmp(testDeposit) != 0 {
		t.Fatalf("payouts %s do not add up to deposit %s", got, testDeposit)
	}
	sum := new(big.Int)
	for _, addr := range [][20]byte{testBuyer, testSeller, testFeeRecipient} {
		sum.Add(sum, cloneBigInt(f.state.balances[addr]))
	}
	if sum.Cmp(testDeposit) != 0 {
		t.Fatalf("party balances %s do not add up to deposit %s", sum, testDeposit)
	}
}

func TestCancelRefundsBuyerMinusPenalty(t *testing.T) {
	f := newFixture(t, [20]byte{})
	if err := f.engine.Cancel(testEscrowAddr, Call{Caller: testSeller}); err == nil {
		t.Fatalf("expected non-buyer cancel to fail")
	}
	if err := f.engine.Cancel(testEscrowAddr, buyerCall()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.state.balance(testBuyer); got != "970000" {
		t.Fatalf("expected buyer refund 970000, got %s", got)
	}
	if got := f.state.balance(testFeeRecipient); got != "55000" {
		t.Fatalf("expected fee recipient 55000, got %s", got)
	}
	requireConserved(t, f)
	if got := f.escrow(t).Status; got != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	requireKind(t, f.engine.Claim(testEscrowAddr, sellerCall()), KindState)
}

func TestCancelAfterClaimFails(t *testing.T) {
	f := newFixture(t, [20]byte{})
	if err := f.engine.Claim(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireKind(t, f.engine.Cancel(testEscrowAddr, buyerCall()), KindState)
}

func TestClaimRejectsBuyerAndSecondClaim(t *testing.T) {
	f := newFixture(t, [20]byte{})
	requireKind(t, f.engine.Claim(testEscrowAddr, buyerCall()), KindAuthorization)
	requireKind(t, f.engine.Claim(testEscrowAddr, Call{}), KindAuthorization)
	if err := f.engine.Claim(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireKind(t, f.engine.Claim(testEscrowAddr, Call{Caller: testStranger}), KindState)
	esc := f.escrow(t)
	if esc.Seller != testSeller {
		t.Fatalf("expected seller to be recorded")
	}
	if esc.ClaimedAt != f.clock.now {
		t.Fatalf("unexpected claimedAt %d", esc.ClaimedAt)
	}
}

func TestMissingEscrowIsNotFound(t *testing.T) {
	f := newFixture(t, [20]byte{})
	requireKind(t, f.engine.Claim(newTestAddress(0x99), sellerCall()), KindNotFound)
	if _, err := f.engine.TimeRemaining(newTestAddress(0x99)); !errors.Is(err, ErrEscrowMissing) {
		t.Fatalf("expected missing escrow error, got %v", err)
	}
}

func TestHappyPathReimbursesGasAndPaysSeller(t *testing.T) {
	f := newFixture(t, [20]byte{})
	for _, step := range []struct {
		name string
		fn   func([20]byte, Call) error
	}{
		{"claim", f.engine.Claim},
		{"markShipped", f.engine.MarkShipped},
		{"claimDelivery", f.engine.ClaimDelivery},
	} {
		if err := step.fn(testEscrowAddr, sellerCallWithCost(3_000)); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
	}
	esc := f.escrow(t)
	if got := esc.GasUsed.String(); got != "9000" {
		t.Fatalf("expected gas used 9000, got %s", got)
	}
	if got := f.state.balance(testSeller); got != "9000" {
		t.Fatalf("expected seller reimbursed 9000, got %s", got)
	}

	requireKind(t, f.engine.FinalizeOrder(testEscrowAddr, Call{Caller: testStranger}), KindTiming)
	f.clock.advance(DisputeWindow)
	if err := f.engine.FinalizeOrder(testEscrowAddr, Call{Caller: testStranger}); err != nil {
		t.Fatalf("finalize order: %v", err)
	}
	if got := f.state.balance(testSeller); got != "1009000" {
		t.Fatalf("expected seller 1009000, got %s", got)
	}
	if got := f.state.balance(testBuyer); got != "11000" {
		t.Fatalf("expected buyer spare cushion 11000, got %s", got)
	}
	if got := f.state.balance(testFeeRecipient); got != "5000" {
		t.Fatalf("expected fee 5000, got %s", got)
	}
	requireConserved(t, f)

	seq := f.emitter.types()
	want := []string{
		EventTypeGasReimbursed, EventTypeEscrowClaimed,
		EventTypeGasReimbursed, EventTypeEscrowShipped,
		EventTypeGasReimbursed, EventTypeDeliveryConfirmed,
		EventTypeEscrowCompleted,
	}
	if fmt.Sprint(seq) != fmt.Sprint(want) {
		t.Fatalf("unexpected event sequence %v", seq)
	}
}

func TestGasReimbursementCappedByCushion(t *testing.T) {
	f := newFixture(t, [20]byte{})
	if err := f.engine.Claim(testEscrowAddr, sellerCallWithCost(15_000)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.engine.MarkShipped(testEscrowAddr, sellerCallWithCost(15_000)); err != nil {
		t.Fatalf("mark shipped: %v", err)
	}
	if err := f.engine.ClaimDelivery(testEscrowAddr, sellerCallWithCost(15_000)); err != nil {
		t.Fatalf("claim delivery must succeed with an exhausted cushion: %v", err)
	}
	esc := f.escrow(t)
	if esc.GasUsed.Cmp(esc.GasCushion) != 0 {
		t.Fatalf("expected cushion fully used, got %s of %s", esc.GasUsed, esc.GasCushion)
	}
	reimbursed := 0
	for _, typ := range f.emitter.types() {
		if typ == EventTypeGasReimbursed {
			reimbursed++
		}
	}
	if reimbursed != 2 {
		t.Fatalf("expected two reimbursement events, got %d", reimbursed)
	}
	f.clock.advance(DisputeWindow)
	if err := f.engine.FinalizeOrder(testEscrowAddr, Call{}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := f.state.balance(testBuyer); got != "0" {
		t.Fatalf("expected no spare cushion, got %s", got)
	}
	requireConserved(t, f)
}

func TestBuyerCallsAreNotReimbursed(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.deliver(t)
	if err := f.engine.OpenDispute(testEscrowAddr, Call{Caller: testBuyer, TxCost: big.NewInt(1_000)}); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if got := f.escrow(t).GasUsed.Sign(); got != 0 {
		t.Fatalf("expected no gas used for buyer call")
	}
}

func TestClaimDeliveryWaitsForOracle(t *testing.T) {
	f := newFixture(t, testOracle)
	if err := f.engine.Claim(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.engine.MarkShipped(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if remaining, _ := f.engine.TimeRemaining(testEscrowAddr); remaining != OracleDelay {
		t.Fatalf("expected oracle delay remaining, got %d", remaining)
	}
	requireKind(t, f.engine.ClaimDelivery(testEscrowAddr, sellerCall()), KindTiming)
	f.clock.advance(OracleDelay)
	if err := f.engine.ClaimDelivery(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim delivery after delay: %v", err)
	}
	if got := f.escrow(t).Status; got != StatusArrived {
		t.Fatalf("expected arrived, got %s", got)
	}
}

func TestOracleConfirmsDelivery(t *testing.T) {
	f := newFixture(t, testOracle)
	if err := f.engine.Claim(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.engine.MarkShipped(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("ship: %v", err)
	}
	requireKind(t, f.engine.ConfirmDeliveryViaOracle(testEscrowAddr, sellerCall()), KindAuthorization)
	if err := f.engine.ConfirmDeliveryViaOracle(testEscrowAddr, Call{Caller: testOracle}); err != nil {
		t.Fatalf("oracle confirm: %v", err)
	}
	evts := f.emitter.typesEvents()
	last := evts[len(evts)-1]
	if last.Type != EventTypeDeliveryConfirmed || last.Attributes["via"] != "oracle" {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestOracleUnsetRejectsConfirmation(t *testing.T) {
	f := newFixture(t, [20]byte{})
	if err := f.engine.Claim(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.engine.MarkShipped(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("ship: %v", err)
	}
	requireKind(t, f.engine.ConfirmDeliveryViaOracle(testEscrowAddr, Call{Caller: testOracle}), KindAuthorization)
}

func TestOpenDisputeGuards(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.deliver(t)
	requireKind(t, f.engine.OpenDispute(testEscrowAddr, sellerCall()), KindAuthorization)
	f.clock.advance(DisputeWindow)
	requireKind(t, f.engine.OpenDispute(testEscrowAddr, buyerCall()), KindTiming)
}

// requireRound fails unless the dispute sits at round want.
func requireRound(t *testing.T, f *fixture, want int) {
	t.Helper()
	if got := int(f.escrow(t).DisputeRound); got != want {
		t.Fatalf("expected dispute round %d, got %d", want, got)
	}
}

func TestNegotiatedSettlement(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.openDispute(t)

	requireKind(t, f.engine.SubmitOffer(testEscrowAddr, sellerCall(), 30), KindAuthorization)
	requireRound(t, f, 0)
	requireKind(t, f.engine.SubmitCounterOffer(testEscrowAddr, sellerCall(), 10), KindState)
	requireRound(t, f, 0)
	requireKind(t, f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 101), KindValidation)
	requireRound(t, f, 0)
	if err := f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 80); err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	requireRound(t, f, 1)
	requireKind(t, f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 70), KindState)
	requireRound(t, f, 1)
	f.clock.advance(day)
	if err := f.engine.SubmitCounterOffer(testEscrowAddr, sellerCallWithCost(2_000), 40); err != nil {
		t.Fatalf("counter offer: %v", err)
	}
	requireRound(t, f, 2)
	requireKind(t, f.engine.SubmitCounterOffer(testEscrowAddr, sellerCall(), 45), KindState)
	requireKind(t, f.engine.SubmitOffer(testEscrowAddr, sellerCall(), 45), KindAuthorization)
	requireKind(t, f.engine.AcceptBuyerOffer(testEscrowAddr, sellerCall()), KindState)
	requireRound(t, f, 2)
	if got := f.escrow(t).LastOffer.BuyerPercent; got != 40 {
		t.Fatalf("rejected moves changed the standing offer to %d", got)
	}
	if err := f.engine.AcceptOffer(testEscrowAddr, buyerCall()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := f.state.balance(testBuyer); got != "418000" {
		t.Fatalf("expected buyer 418000, got %s", got)
	}
	if got := f.state.balance(testSeller); got != "602000" {
		t.Fatalf("expected seller 602000, got %s", got)
	}
	requireConserved(t, f)
	if got := f.escrow(t).Status; got != StatusSettled {
		t.Fatalf("expected settled, got %s", got)
	}
}

func TestSellerAcceptsBuyerOffer(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.openDispute(t)
	if err := f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 25); err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	requireKind(t, f.engine.AcceptOffer(testEscrowAddr, buyerCall()), KindState)
	requireKind(t, f.engine.AcceptBuyerOffer(testEscrowAddr, buyerCall()), KindAuthorization)
	if err := f.engine.AcceptBuyerOffer(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("accept buyer offer: %v", err)
	}
	if got := f.state.balance(testBuyer); got != "270000" {
		t.Fatalf("expected buyer 270000, got %s", got)
	}
	requireConserved(t, f)
}

func TestFinalizeOfferAfterResponseWindow(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.openDispute(t)
	if err := f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 60); err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	requireKind(t, f.engine.FinalizeOffer(testEscrowAddr, Call{Caller: testStranger}), KindTiming)
	f.clock.advance(FirstOfferWindow)
	requireKind(t, f.engine.SubmitCounterOffer(testEscrowAddr, sellerCall(), 10), KindTiming)
	if err := f.engine.FinalizeOffer(testEscrowAddr, Call{Caller: testStranger}); err != nil {
		t.Fatalf("finalize offer: %v", err)
	}
	if got := f.state.balance(testBuyer); got != "620000" {
		t.Fatalf("expected buyer 620000, got %s", got)
	}
	requireConserved(t, f)
	seq := f.emitter.types()
	if seq[len(seq)-1] != EventTypeOfferAutoAccepted {
		t.Fatalf("expected auto accepted event, got %v", seq)
	}
}

func TestFinalizeOfferWithoutOpeningOfferFavoursSeller(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.openDispute(t)
	if remaining, _ := f.engine.TimeRemaining(testEscrowAddr); remaining != FirstOfferWindow {
		t.Fatalf("expected first offer window remaining, got %d", remaining)
	}
	f.clock.advance(FirstOfferWindow)
	requireKind(t, f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 50), KindTiming)
	if err := f.engine.FinalizeOffer(testEscrowAddr, Call{}); err != nil {
		t.Fatalf("finalize offer: %v", err)
	}
	if got := f.state.balance(testSeller); got != "1000000" {
		t.Fatalf("expected seller 1000000, got %s", got)
	}
	requireConserved(t, f)
}

// negotiateToFinalRound plays all six offers, a day apart.
func negotiateToFinalRound(t *testing.T, f *fixture) {
	t.Helper()
	for round := 0; round < int(MaxDisputeRounds); round++ {
		var err error
		if round%2 == 0 {
			err = f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 90-round*5)
		} else {
			err = f.engine.SubmitCounterOffer(testEscrowAddr, sellerCall(), 10+round*5)
		}
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		f.clock.advance(day)
	}
}

func TestTurnsAlternateAndRoundsAreCapped(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.openDispute(t)
	negotiateToFinalRound(t, f)
	esc := f.escrow(t)
	if esc.DisputeRound != MaxDisputeRounds {
		t.Fatalf("expected round %d, got %d", MaxDisputeRounds, esc.DisputeRound)
	}
	if esc.LastOffer.OfferedBy != testSeller || esc.LastOffer.BuyerPercent != 35 {
		t.Fatalf("unexpected last offer %+v", esc.LastOffer)
	}
	requireKind(t, f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 50), KindState)
	requireKind(t, f.engine.SubmitCounterOffer(testEscrowAddr, sellerCall(), 50), KindState)
	requireRound(t, f, int(MaxDisputeRounds))
}

func TestRejectFinalOfferRequiresFinalRound(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.openDispute(t)
	requireKind(t, f.engine.RejectFinalOffer(testEscrowAddr, buyerCall()), KindState)
	requireRound(t, f, 0)

	if err := f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 50); err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireKind(t, f.engine.RejectFinalOffer(testEscrowAddr, buyerCall()), KindState)
	requireRound(t, f, 1)

	for round := 1; round < int(MaxDisputeRounds)-1; round++ {
		var err error
		if round%2 == 1 {
			err = f.engine.SubmitCounterOffer(testEscrowAddr, sellerCall(), 20+round)
		} else {
			err = f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 50-round)
		}
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
	}
	requireRound(t, f, int(MaxDisputeRounds)-1)
	requireKind(t, f.engine.RejectFinalOffer(testEscrowAddr, buyerCall()), KindState)
	requireRound(t, f, int(MaxDisputeRounds)-1)
	if got := f.escrow(t).Status; got != StatusInDispute {
		t.Fatalf("expected in_dispute, got %s", got)
	}
}

func TestArbiterDecision(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.openDispute(t)
	negotiateToFinalRound(t, f)
	requireKind(t, f.engine.RejectFinalOffer(testEscrowAddr, sellerCall()), KindAuthorization)
	if err := f.engine.RejectFinalOffer(testEscrowAddr, buyerCall()); err != nil {
		t.Fatalf("reject final offer: %v", err)
	}
	if got := f.escrow(t).Status; got != StatusArbiterReview {
		t.Fatalf("expected arbiter review, got %s", got)
	}
	requireKind(t, f.engine.AcceptOffer(testEscrowAddr, buyerCall()), KindState)
	requireKind(t, f.engine.ArbiterDecide(testEscrowAddr, buyerCall(), 30), KindAuthorization)
	requireKind(t, f.engine.ArbiterDecide(testEscrowAddr, Call{Caller: testArbiter}, 130), KindValidation)
	if err := f.engine.ArbiterDecide(testEscrowAddr, Call{Caller: testArbiter}, 30); err != nil {
		t.Fatalf("arbiter decide: %v", err)
	}
	if got := f.state.balance(testBuyer); got != "290000" {
		t.Fatalf("expected buyer 290000, got %s", got)
	}
	if got := f.state.balance(testSeller); got != "630000" {
		t.Fatalf("expected seller 630000, got %s", got)
	}
	if got := f.state.balance(testFeeRecipient); got != "105000" {
		t.Fatalf("expected fee recipient 105000, got %s", got)
	}
	requireConserved(t, f)
	requireKind(t, f.engine.FinalizeArbiter(testEscrowAddr, Call{}), KindState)
}

func TestFinalizeArbiterDefaultsToBuyer(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.openDispute(t)
	negotiateToFinalRound(t, f)
	if err := f.engine.RejectFinalOffer(testEscrowAddr, buyerCall()); err != nil {
		t.Fatalf("reject final offer: %v", err)
	}
	requireKind(t, f.engine.FinalizeArbiter(testEscrowAddr, Call{Caller: testStranger}), KindTiming)
	f.clock.advance(ArbiterTimeout)
	if remaining, _ := f.engine.TimeRemaining(testEscrowAddr); remaining != 0 {
		t.Fatalf("expected no time remaining, got %d", remaining)
	}
	if err := f.engine.FinalizeArbiter(testEscrowAddr, Call{Caller: testStranger}); err != nil {
		t.Fatalf("finalize arbiter: %v", err)
	}
	if got := f.state.balance(testBuyer); got != "920000" {
		t.Fatalf("expected buyer 920000, got %s", got)
	}
	if got := f.state.balance(testSeller); got != "0" {
		t.Fatalf("expected seller 0, got %s", got)
	}
	requireConserved(t, f)
	evt := f.emitter.typesEvents()[len(f.emitter.events)-1]
	if evt.Attributes["defaulted"] != "true" || evt.Attributes["buyerPercent"] != "100" {
		t.Fatalf("unexpected decision event %+v", evt.Attributes)
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	f := newFixture(t, [20]byte{})
	if err := f.engine.Cancel(testEscrowAddr, buyerCall()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	calls := map[string]func() error{
		"claim":            func() error { return f.engine.Claim(testEscrowAddr, sellerCall()) },
		"cancel":           func() error { return f.engine.Cancel(testEscrowAddr, buyerCall()) },
		"markShipped":      func() error { return f.engine.MarkShipped(testEscrowAddr, sellerCall()) },
		"claimDelivery":    func() error { return f.engine.ClaimDelivery(testEscrowAddr, sellerCall()) },
		"finalizeOrder":    func() error { return f.engine.FinalizeOrder(testEscrowAddr, Call{}) },
		"openDispute":      func() error { return f.engine.OpenDispute(testEscrowAddr, buyerCall()) },
		"submitOffer":      func() error { return f.engine.SubmitOffer(testEscrowAddr, buyerCall(), 1) },
		"finalizeOffer":    func() error { return f.engine.FinalizeOffer(testEscrowAddr, Call{}) },
		"rejectFinalOffer": func() error { return f.engine.RejectFinalOffer(testEscrowAddr, buyerCall()) },
		"arbiterDecide":    func() error { return f.engine.ArbiterDecide(testEscrowAddr, Call{Caller: testArbiter}, 1) },
		"finalizeArbiter":  func() error { return f.engine.FinalizeArbiter(testEscrowAddr, Call{}) },
	}
	names := make([]string, 0, len(calls))
	for name := range calls {
		names = append(names, name)
	}
	sort.Strings(names)
	before := f.state.balance(testBuyer)
	for _, name := range names {
		err := calls[name]()
		requireKind(t, err, KindState)
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%s: expected ErrInvalidState, got %v", name, err)
		}
	}
	if got := f.state.balance(testBuyer); got != before {
		t.Fatalf("terminal calls moved funds: %s -> %s", before, got)
	}
}

func TestPayoutDetectsCustodyMismatch(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.state.balances[testEscrowAddr] = big.NewInt(1)
	err := f.engine.Cancel(testEscrowAddr, buyerCall())
	requireKind(t, err, KindInvariant)
	if got := f.escrow(t).Status; got != StatusPending {
		t.Fatalf("failed payout must not persist, got %s", got)
	}
}

func TestTimeRemainingNeverNegative(t *testing.T) {
	f := newFixture(t, [20]byte{})
	f.deliver(t)
	remaining, err := f.engine.TimeRemaining(testEscrowAddr)
	if err != nil {
		t.Fatalf("time remaining: %v", err)
	}
	if remaining != DisputeWindow {
		t.Fatalf("expected dispute window remaining, got %d", remaining)
	}
	f.clock.advance(DisputeWindow * 3)
	if remaining, _ = f.engine.TimeRemaining(testEscrowAddr); remaining != 0 {
		t.Fatalf("expected zero, got %d", remaining)
	}
}

func TestTimestampsStayMonotonicUnderClockSkew(t *testing.T) {
	f := newFixture(t, [20]byte{})
	if err := f.engine.Claim(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f.clock.advance(-day)
	if err := f.engine.MarkShipped(testEscrowAddr, sellerCall()); err != nil {
		t.Fatalf("ship: %v", err)
	}
	esc := f.escrow(t)
	if esc.ShippedAt < esc.ClaimedAt {
		t.Fatalf("shippedAt %d precedes claimedAt %d", esc.ShippedAt, esc.ClaimedAt)
	}
}
