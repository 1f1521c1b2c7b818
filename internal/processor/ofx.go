package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
)

// Notes and defaults for entities created from OFX statements.
const (
	NoteOFXCategory       = "Categoria importada do OFX"
	NoteOFXAccountPrefix  = "Conta importada do OFX - "
	DefaultOFXCategory    = "Outros"
	creditCardAccountType = "CREDITCARD"
)

// OFXProcessor reads bank and credit card statements from OFX/QFX documents.
// Entity slugs are diacritic-folded with domain.Slugify.
type OFXProcessor struct {
	resolver *Resolver
}

// NewOFXProcessor creates a bank-exchange processor backed by store.
func NewOFXProcessor(store EntityStore) *OFXProcessor {
	return &OFXProcessor{resolver: NewResolver(store, domain.Slugify)}
}

// Name returns the processor identifier.
func (p *OFXProcessor) Name() string { return "ofx" }

// Source returns the job source served by this processor.
func (p *OFXProcessor) Source() jobs.Source { return jobs.SourceBankExchange }

// Extensions returns the OFX extensions accepted.
func (p *OFXProcessor) Extensions() []string { return []string{".ofx", ".qfx"} }

// ofxStatement is one account section of a document.
type ofxStatement struct {
	accountID   string
	accountType string
	records     []ofxRecord
}

type ofxRecord struct {
	date        time.Time
	amount      decimal.Decimal
	category    string
	description string
}

// Process parses the whole document before resolving any entity. Every parse
// problem is reported as a single InvalidDataError. The document is decoded
// without ofxgo's validation so optional fields such as TRNTYPE may be absent;
// required fields are checked while building statements.
func (p *OFXProcessor) Process(ctx context.Context, r io.Reader, ownerID string) ([]*domain.Transaction, error) {
	resp, err := ofxgo.DecodeResponse(r)
	if err != nil {
		return nil, &InvalidDataError{Field: "document", Reason: "malformed OFX document", Err: err}
	}

	statements, err := collectStatements(resp)
	if err != nil {
		return nil, &InvalidDataError{Field: "document", Reason: "unusable OFX statement", Err: err}
	}
	descriptions := accountDescriptions(resp)

	var transactions []*domain.Transaction
	for _, stmt := range statements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := stmt.accountID
		if desc := descriptions[stmt.accountID]; desc != "" {
			name = desc
		}
		account, err := p.resolver.Account(ctx, ownerID, name, NoteOFXAccountPrefix+stmt.accountType)
		if err != nil {
			return nil, err
		}

		for _, rec := range stmt.records {
			category, err := p.resolver.Category(ctx, ownerID, rec.category, NoteOFXCategory)
			if err != nil {
				return nil, err
			}
			transactions = append(transactions, domain.NewTransaction(
				ownerID,
				domain.KindFromSignedAmount(rec.amount),
				rec.amount,
				rec.date,
				rec.description,
				category,
				account,
			))
		}
	}

	return transactions, nil
}

// collectStatements flattens bank and credit card statements in document order.
func collectStatements(resp *ofxgo.Response) ([]ofxStatement, error) {
	var out []ofxStatement

	for i, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			return nil, fmt.Errorf("bank message %d: expected *ofxgo.StatementResponse, got %T", i, msg)
		}
		s, err := buildStatement(stmt.BankAcctFrom.AcctID.String(), stmt.BankAcctFrom.AcctType.String(), stmt.BankTranList)
		if err != nil {
			return nil, fmt.Errorf("bank statement %d: %w", i, err)
		}
		out = append(out, s)
	}

	for i, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, fmt.Errorf("credit card message %d: expected *ofxgo.CCStatementResponse, got %T", i, msg)
		}
		s, err := buildStatement(stmt.CCAcctFrom.AcctID.String(), creditCardAccountType, stmt.BankTranList)
		if err != nil {
			return nil, fmt.Errorf("credit card statement %d: %w", i, err)
		}
		out = append(out, s)
	}

	if len(out) == 0 {
		return nil, errors.New("no bank or credit card statement found")
	}
	return out, nil
}

func buildStatement(accountID, accountType string, list *ofxgo.TransactionList) (ofxStatement, error) {
	if accountID == "" {
		return ofxStatement{}, errors.New("missing account ID")
	}
	if list == nil {
		return ofxStatement{}, fmt.Errorf("account %s: missing transaction list", accountID)
	}

	s := ofxStatement{accountID: accountID, accountType: accountType}
	for i, txn := range list.Transactions {
		rec, err := buildRecord(txn)
		if err != nil {
			return ofxStatement{}, fmt.Errorf("account %s transaction %d: %w", accountID, i, err)
		}
		s.records = append(s.records, rec)
	}
	return s, nil
}

func buildRecord(txn ofxgo.Transaction) (ofxRecord, error) {
	date := txn.DtPosted.Time
	if date.IsZero() {
		return ofxRecord{}, errors.New("missing posted date")
	}

	amount, err := decimal.NewFromString(txn.TrnAmt.FloatString(8))
	if err != nil {
		return ofxRecord{}, fmt.Errorf("amount %s: %w", txn.TrnAmt.String(), err)
	}

	category := DefaultOFXCategory
	if txn.TrnType != 0 {
		category = strings.ToLower(txn.TrnType.String())
	}

	payee := strings.TrimSpace(txn.Name.String())
	if payee == "" && txn.Payee != nil {
		payee = strings.TrimSpace(txn.Payee.Name.String())
	}
	description := payee
	if memo := strings.TrimSpace(txn.Memo.String()); memo != "" && memo != payee {
		description = payee + " - " + memo
	}

	return ofxRecord{
		date:        date,
		amount:      amount,
		category:    category,
		description: description,
	}, nil
}

// accountDescriptions maps account ids to the DESC advertised in the signup
// account-information section, when the document carries one.
func accountDescriptions(resp *ofxgo.Response) map[string]string {
	out := map[string]string{}
	for _, msg := range resp.Signup {
		info, ok := msg.(*ofxgo.AcctInfoResponse)
		if !ok {
			continue
		}
		for _, acct := range info.AcctInfo {
			desc := strings.TrimSpace(acct.Desc.String())
			if desc == "" {
				continue
			}
			switch {
			case acct.BankAcctInfo != nil:
				out[acct.BankAcctInfo.BankAcctFrom.AcctID.String()] = desc
			case acct.CCAcctInfo != nil:
				out[acct.CCAcctInfo.CCAcctFrom.AcctID.String()] = desc
			}
		}
	}
	return out
}
