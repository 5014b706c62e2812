package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/proofs"
	"ProofChain/internal/wallet"
)

// multipartOverhead 为表单边界与头部预留的字节数。
const multipartOverhead = 1 << 20

const maxJSONBody = 1 << 20

func (s *Server) handleAnalyzeUpload(kind analysis.Kind, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := s.readUpload(w, r, kind, field)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		s.respondAnalysis(w, r, item)
	}
}

func (s *Server) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, s.textLimit(), &req); err != nil {
		writeError(w, err, nil)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, invalidInput("No text provided"), nil)
		return
	}
	s.respondAnalysis(w, r, analysis.ContentItem{Kind: analysis.KindText, Text: req.Text})
}

func (s *Server) respondAnalysis(w http.ResponseWriter, r *http.Request, item analysis.ContentItem) {
	if s.analyzer == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "analyzer not configured"), nil)
		return
	}
	record, err := s.analyzer.Analyze(r.Context(), item)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	fp, err := proofs.Compute(record)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{Success: true, Analysis: record, ProofHash: fp})
}

func (s *Server) handlePublishProof(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	if strings.TrimSpace(req.ProofHash) == "" || strings.TrimSpace(req.WalletAddress) == "" {
		writeError(w, invalidInput("Missing required fields"), nil)
		return
	}
	fp, err := proofs.ParseFingerprint(strings.TrimSpace(req.ProofHash))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if !common.IsHexAddress(req.WalletAddress) {
		writeError(w, invalidInput("walletAddress is not a valid address"), nil)
		return
	}
	if s.signer == nil || s.publisher == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "publishing not configured"), nil)
		return
	}

	identity, err := s.signerIdentity(r)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if identity.Address != common.HexToAddress(req.WalletAddress) {
		writeError(w, invalidInput("walletAddress does not match the connected signer "+identity.Address.Hex()), nil)
		return
	}

	receipt, err := s.publisher.Publish(r.Context(), fp, identity)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, publishResponse{
		Success:       true,
		TxHash:        receipt.TransactionID,
		ProofHash:     receipt.Fingerprint.Hex(),
		WalletAddress: receipt.Address.Hex(),
		ChainID:       receipt.ChainID,
		BlockNumber:   receipt.BlockNumber,
		Timestamp:     receipt.ConfirmedAt,
	})
}

// signerIdentity 复用已建立的签名身份，未连接时串行地建立连接。
func (s *Server) signerIdentity(r *http.Request) (wallet.Identity, error) {
	s.signerMu.Lock()
	defer s.signerMu.Unlock()
	if current := s.signer.Identity(); current.Connected() {
		return current, nil
	}
	return s.signer.Connect(r.Context())
}

func (s *Server) textLimit() int64 {
	if s.analyzer != nil && s.analyzer.MaxPayload() > 0 {
		return s.analyzer.MaxPayload() + maxJSONBody
	}
	return maxJSONBody
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, kind analysis.Kind, field string) (analysis.ContentItem, error) {
	limit := int64(0)
	if s.analyzer != nil {
		limit = s.analyzer.MaxPayload()
	}
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return analysis.ContentItem{}, bodyError(err, "malformed multipart body")
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		label := field
		if label != "file" {
			label += " file"
		}
		return analysis.ContentItem{}, invalidInput("No " + label + " provided")
	}
	defer file.Close()
	return readFile(file, header, kind, limit)
}

func readFile(file multipart.File, header *multipart.FileHeader, kind analysis.Kind, limit int64) (analysis.ContentItem, error) {
	reader := io.Reader(file)
	if limit > 0 {
		reader = io.LimitReader(file, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return analysis.ContentItem{}, invalidInput("failed to read uploaded file")
	}
	if len(data) == 0 {
		return analysis.ContentItem{}, invalidInput("uploaded file is empty")
	}
	if limit > 0 && int64(len(data)) > limit {
		return analysis.ContentItem{}, xerrors.New(xerrors.CodePayloadTooLarge, "", xerrors.WithStage("api"))
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return analysis.ContentItem{
		Kind:         kind,
		Data:         data,
		OriginalName: header.Filename,
		MimeType:     mimeType,
		Size:         int64(len(data)),
	}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return bodyError(err, "request body is not valid JSON")
	}
	return nil
}

func bodyError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return xerrors.Wrap(xerrors.CodePayloadTooLarge, err, "", xerrors.WithStage("api"))
	}
	return xerrors.Wrap(xerrors.CodeInputInvalid, err, message, xerrors.WithStage("api"))
}
