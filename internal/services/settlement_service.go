package services

import (
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/marketpay/backend/internal/models"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// SettlementService renders completed purchases as ISO 20022 messages for
// the merchant payout pipeline: pacs.008 for the credit transfer leg and
// pacs.002 for its status report.
type SettlementService struct {
	db        *sql.DB
	store     *LedgerStore
	validator *ValidationHelper
}

func NewSettlementService(db *sql.DB, store *LedgerStore) *SettlementService {
	return &SettlementService{
		db:        db,
		store:     store,
		validator: NewValidationHelper(),
	}
}

type settlementRequest struct {
	TransactionID string `json:"transactionId" validate:"required,uuid4"`
}

// ExportSettlement exports a transaction as an ISO 20022 message
// @Summary Export settlement message
// @Description Render a completed purchase as a pacs.008 credit transfer for the merchant payout leg
// @Tags settlement
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body settlementRequest true "Settlement export request"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 404 {object} ErrorResponse
// @Router /settlement/export [post]
func (s *SettlementService) ExportSettlement(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req settlementRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	transaction, err := s.store.GetTransaction(r.Context(), txID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	merchantName, merchantUserID, err := s.merchantForTransaction(transaction)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	if role != models.RoleAdmin && userID != merchantUserID {
		SendServiceError(w, ErrForbidden)
		return
	}

	doc, err := s.CreatePacs008(transaction, merchantName)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	xmlData, err := s.ConvertToXML(doc)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"component":      "settlement",
		"transaction_id": transaction.TransactionID,
		"merchant_id":    transaction.MerchantID,
	}).Info("Settlement message exported")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "exported",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}

func (s *SettlementService) merchantForTransaction(tx *models.Transaction) (string, int64, error) {
	var name string
	var userID int64
	err := s.db.QueryRow(`
		SELECT name, user_id FROM merchants WHERE id = $1`, tx.MerchantID).
		Scan(&name, &userID)
	if err == sql.ErrNoRows {
		return "", 0, ErrUserNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("resolve merchant %d: %w", tx.MerchantID, err)
	}
	return name, userID, nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for
// the merchant payout leg of a purchase.
func (s *SettlementService) CreatePacs008(tx *models.Transaction, merchantName string) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	currency := settlementCurrency()
	amount := tx.Price.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(tx.TransactionID.String())}[0],
					EndToEndId: common.Max35Text(tx.TransactionID.String()),
					TxId:       &[]common.Max35Text{common.Max35Text(tx.TransactionID.String())}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("MARKETPAY")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(fmt.Sprintf("customer:%d", tx.CustomerID))}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(fmt.Sprintf("%d", tx.MerchantID)),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(merchantName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 creates a pacs.002 payment status report for a purchase.
func (s *SettlementService) CreatePacs002(tx *models.Transaction, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(tx.TransactionID.String())}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(tx.TransactionID.String())}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(tx.TransactionID.String())}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0], // ACCP, RJCT, ACSC, etc.
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts an ISO 20022 document to an XML string.
func (s *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

func settlementCurrency() string {
	currency := viper.GetString("settlement.currency")
	if currency == "" {
		currency = "USD"
	}
	return currency
}
