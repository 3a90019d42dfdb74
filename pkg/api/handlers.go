package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/node"
	"github.com/Mindburn-Labs/proofpay/pkg/payments"
	"github.com/Mindburn-Labs/proofpay/pkg/receipts"
	"github.com/Mindburn-Labs/proofpay/pkg/rewards"
)

const maxBodyBytes = 1 << 20

func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return v, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		WriteBadRequest(w, r, fmt.Sprintf("Invalid request body: %v", err))
		return v, false
	}
	return v, true
}

func pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		WriteBadRequest(w, r, fmt.Sprintf("%s must be a non-negative integer", name))
		return 0, false
	}
	return v, true
}

// parseAddress accepts a 0x address; "native" names the native currency.
func parseAddress(s string) (chain.Address, error) {
	if strings.EqualFold(s, "native") {
		return chain.NativeToken, nil
	}
	return chain.ParseAddress(s)
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (chain.Address, bool) {
	addr, err := parseAddress(r.PathValue(name))
	if err != nil {
		WriteBadRequest(w, r, fmt.Sprintf("%s: %v", name, err))
		return chain.ZeroAddress, false
	}
	return addr, true
}

// queryAddress reads an optional address query parameter.
func queryAddress(w http.ResponseWriter, r *http.Request, name string) (chain.Address, bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return chain.ZeroAddress, false, true
	}
	addr, err := chain.ParseAddress(raw)
	if err != nil {
		WriteBadRequest(w, r, fmt.Sprintf("%s: %v", name, err))
		return chain.ZeroAddress, false, false
	}
	return addr, true, true
}

// submit runs method as the authenticated caller and writes the committed
// record.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, method string, args any) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		WriteUnauthorized(w, r, "")
		return
	}
	rec, err := s.node.Submit(r.Context(), caller, method, args)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"height": s.node.Ledger().Height(),
	})
}

func (s *Server) handleRecordReceipt(w http.ResponseWriter, r *http.Request) {
	args, ok := decodeBody[node.RecordReceiptArgs](w, r)
	if !ok {
		return
	}
	if args.Buyer.IsZero() {
		args.Buyer, _ = GetCaller(r.Context())
	}
	s.submit(w, r, node.MethodRecordReceipt, args)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	buyer, filtered, ok := queryAddress(w, r, "buyer")
	if !ok {
		return
	}
	var out []receipts.Receipt
	_ = s.node.View(func() error {
		if !filtered {
			out = s.node.Registry.Receipts()
			return nil
		}
		for _, id := range s.node.Registry.GetReceiptsByBuyer(buyer) {
			if rc, err := s.node.Registry.GetReceipt(id); err == nil {
				out = append(out, rc)
			}
		}
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{"receipts": nonNil(out)})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var rc receipts.Receipt
	if err := s.node.View(func() (err error) {
		rc, err = s.node.Registry.GetReceipt(id)
		return err
	}); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rc)
}

func (s *Server) handleReceiptFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var submitted bool
	_ = s.node.View(func() error {
		submitted = s.node.Rewards.HasFeedback(id)
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{"receiptId": id, "submitted": submitted})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	contentID := r.PathValue("contentID")
	var recorded bool
	_ = s.node.View(func() error {
		recorded = s.node.Registry.IsContentRecorded(contentID)
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{"contentId": contentID, "recorded": recorded})
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	args, ok := decodeBody[node.ProcessPaymentArgs](w, r)
	if !ok {
		return
	}
	s.submit(w, r, node.MethodProcessPayment, args)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	buyer, filtered, ok := queryAddress(w, r, "buyer")
	if !ok {
		return
	}
	var out []payments.Payment
	_ = s.node.View(func() error {
		if !filtered {
			out = s.node.Payments.Payments()
			return nil
		}
		for _, id := range s.node.Payments.GetPaymentsByBuyer(buyer) {
			if p, err := s.node.Payments.GetPaymentDetails(id); err == nil {
				out = append(out, p)
			}
		}
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{"payments": nonNil(out)})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var p payments.Payment
	if err := s.node.View(func() (err error) {
		p, err = s.node.Payments.GetPaymentDetails(id)
		return err
	}); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	args, ok := decodeBody[node.SubmitFeedbackArgs](w, r)
	if !ok {
		return
	}
	s.submit(w, r, node.MethodSubmitFeedback, args)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	submitter, filtered, ok := queryAddress(w, r, "submitter")
	if !ok {
		return
	}
	var out []rewards.Feedback
	_ = s.node.View(func() error {
		if !filtered {
			out = s.node.Rewards.Feedback()
			return nil
		}
		for _, id := range s.node.Rewards.GetFeedbackBySubmitter(submitter) {
			if fb, err := s.node.Rewards.GetFeedback(id); err == nil {
				out = append(out, fb)
			}
		}
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{"feedback": nonNil(out)})
}

func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var fb rewards.Feedback
	if err := s.node.View(func() (err error) {
		fb, err = s.node.Rewards.GetFeedback(id)
		return err
	}); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, fb)
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	var balance uint64
	_ = s.node.View(func() error {
		balance = s.node.Rewards.GetRewardPoolBalance()
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{
		"token":   rewards.RewardToken,
		"balance": balance,
		"reward":  rewards.RewardAmount,
	})
}

func (s *Server) handleFundPool(w http.ResponseWriter, r *http.Request) {
	args, ok := decodeBody[node.AmountArgs](w, r)
	if !ok {
		return
	}
	s.submit(w, r, node.MethodFundPool, args)
}

func (s *Server) handleWithdrawPool(w http.ResponseWriter, r *http.Request) {
	if _, ok := decodeBody[struct{}](w, r); !ok {
		return
	}
	s.submit(w, r, node.MethodWithdrawPool, struct{}{})
}

func (s *Server) handleUpdateMerchant(w http.ResponseWriter, r *http.Request) {
	args, ok := decodeBody[node.UpdateMerchantWalletArgs](w, r)
	if !ok {
		return
	}
	s.submit(w, r, node.MethodUpdateMerchantWallet, args)
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	args, ok := decodeBody[node.EmergencyWithdrawArgs](w, r)
	if !ok {
		return
	}
	s.submit(w, r, node.MethodEmergencyWithdraw, args)
}

var ownerMethods = map[string]string{
	"receipts": node.MethodRegistryTransferOwner,
	"payments": node.MethodPaymentsTransferOwner,
	"rewards":  node.MethodRewardsTransferOwner,
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	method, ok := ownerMethods[r.PathValue("component")]
	if !ok {
		WriteNotFound(w, r, fmt.Sprintf("unknown component %q", r.PathValue("component")))
		return
	}
	args, ok := decodeBody[node.TransferOwnershipArgs](w, r)
	if !ok {
		return
	}
	s.submit(w, r, method, args)
}

type approveRequest struct {
	Spender chain.Address `json:"spender"`
	Amount  uint64        `json:"amount"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	req, ok := decodeBody[approveRequest](w, r)
	if !ok {
		return
	}
	s.submit(w, r, node.MethodTokenApprove, node.TokenApproveArgs{Token: tok, Spender: req.Spender, Amount: req.Amount})
}

type transferRequest struct {
	To     chain.Address `json:"to"`
	Amount uint64        `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	req, ok := decodeBody[transferRequest](w, r)
	if !ok {
		return
	}
	s.submit(w, r, node.MethodTokenTransfer, node.TokenTransferArgs{Token: tok, To: req.To, Amount: req.Amount})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	tokAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	tok, found := s.node.Token(tokAddr)
	if !found {
		WriteNotFound(w, r, fmt.Sprintf("token %s not deployed", tokAddr))
		return
	}
	var balance uint64
	_ = s.node.View(func() error {
		balance = tok.BalanceOf(account)
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{"token": tokAddr, "account": account, "balance": balance})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	tokAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	spender, ok := pathAddress(w, r, "spender")
	if !ok {
		return
	}
	tok, found := s.node.Token(tokAddr)
	if !found {
		WriteNotFound(w, r, fmt.Sprintf("token %s not deployed", tokAddr))
		return
	}
	var allowance uint64
	_ = s.node.View(func() error {
		allowance = tok.Allowance(owner, spender)
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{"token": tokAddr, "owner": owner, "spender": spender, "allowance": allowance})
}

func (s *Server) handleHead(w http.ResponseWriter, _ *http.Request) {
	var height uint64
	var head string
	_ = s.node.Ledger().ViewAt(func(h uint64, hash string) error {
		height, head = h, hash
		return nil
	})
	WriteJSON(w, http.StatusOK, map[string]any{
		"chainId": s.node.Genesis().ChainID,
		"height":  height,
		"head":    head,
	})
}

func (s *Server) handleTxs(w http.ResponseWriter, r *http.Request) {
	from := uint64(1)
	if raw := r.URL.Query().Get("from"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteBadRequest(w, r, "from must be a non-negative integer")
			return
		}
		from = v
	}
	WriteJSON(w, http.StatusOK, map[string]any{"records": s.node.Ledger().Records(from)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
