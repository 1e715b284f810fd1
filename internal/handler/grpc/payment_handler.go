package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/internal/service"
	"github.com/mubaid99/payments/pkg/errno"
)

// PaymentAPI gRPC 依赖的业务接口
type PaymentAPI interface {
	CreateIntent(ctx context.Context, in service.CreateIntentInput) (*model.PaymentIntent, error)
	GetIntent(ctx context.Context, id string) (*model.PaymentIntent, error)
	ListTransfers(ctx context.Context, address string, limit, offset int) ([]model.DetectedTransfer, error)
}

// PaymentHandler implements PaymentServiceServer
type PaymentHandler struct {
	payments PaymentAPI
	log      *zap.Logger
}

func NewPaymentHandler(payments PaymentAPI, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log.Named("grpc")}
}

func (h *PaymentHandler) GetIntent(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error) {
	if id.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	intent, err := h.payments.GetIntent(ctx, id.GetValue())
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(intent)
}

func (h *PaymentHandler) CreateIntent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	in := service.CreateIntentInput{
		Network:         f["blockchain"].GetStringValue(),
		Address:         f["toAddress"].GetStringValue(),
		TokenContract:   f["contract"].GetStringValue(),
		CoinName:        f["coinName"].GetStringValue(),
		ExpectedAmount:  amountOf(f["amount"]),
		ClientReference: f["clientId"].GetStringValue(),
	}
	if in.Network == "" || in.Address == "" {
		return nil, status.Error(codes.InvalidArgument, "blockchain and toAddress are required")
	}

	h.log.Info("create intent", zap.String("network", in.Network), zap.String("client_id", in.ClientReference))
	intent, err := h.payments.CreateIntent(ctx, in)
	if err != nil {
		return nil, h.toStatus(err)
	}

	out, err := toStruct(intent)
	if err != nil {
		return nil, err
	}
	out.Fields["uri"] = structpb.NewStringValue(intent.URI())
	return out, nil
}

func (h *PaymentHandler) ListTransfers(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	f := req.GetFields()
	address := f["address"].GetStringValue()
	if address == "" {
		return nil, status.Error(codes.InvalidArgument, "address is required")
	}
	list, err := h.payments.ListTransfers(ctx, address, int(f["limit"].GetNumberValue()), int(f["offset"].GetNumberValue()))
	if err != nil {
		return nil, h.toStatus(err)
	}

	values := make([]interface{}, 0, len(list))
	for i := range list {
		m, err := toMap(&list[i])
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		values = append(values, m)
	}
	out, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus errno -> gRPC status code
func (h *PaymentHandler) toStatus(err error) error {
	code, msg := errno.Decode(err)
	switch {
	case errors.Is(err, errno.ErrIntentNotFound):
		return status.Error(codes.NotFound, msg)
	case errors.Is(err, errno.ErrInvalidAddress),
		errors.Is(err, errno.ErrInvalidAmount),
		errors.Is(err, errno.ErrUnsupportedNetwork),
		errors.Is(err, errno.ErrTokenNotSupported):
		return status.Error(codes.InvalidArgument, msg)
	}
	h.log.Error("request failed", zap.Int("code", code), zap.Error(err))
	return status.Error(codes.Internal, msg)
}

// amountOf 与 HTTP 一致, 数字和字符串都接受
func amountOf(v *structpb.Value) string {
	if v == nil {
		return ""
	}
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
		return strconv.FormatFloat(v.GetNumberValue(), 'f', -1, 64)
	}
	return v.GetStringValue()
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	m, err := toMap(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toMap 复用 model 的 json tag
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
