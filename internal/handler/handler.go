package handler

import (
	"errors"
	"strconv"

	"browniepoints/internal/repository"
	"browniepoints/internal/service"
	"browniepoints/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService    *service.AccountService
	connectionService *service.ConnectionService
	transferService   *service.TransferService
	timeoutService    *service.TimeoutService
}

// NewHandler 创建处理器实例
// 服务实例由 main 构造后注入 —— TimeoutService 持有计时器注册表，
// 必须与对账任务共享同一个实例
func NewHandler(
	accountService *service.AccountService,
	connectionService *service.ConnectionService,
	transferService *service.TransferService,
	timeoutService *service.TimeoutService,
) *Handler {
	return &Handler{
		accountService:    accountService,
		connectionService: connectionService,
		transferService:   transferService,
		timeoutService:    timeoutService,
	}
}

// writeServiceError 把服务层的类型化错误映射为业务错误码
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSameUser),
		errors.Is(err, service.ErrPointsOutOfRange),
		errors.Is(err, service.ErrPointsSign),
		errors.Is(err, service.ErrMessageTooLong),
		errors.Is(err, service.ErrInvalidKind):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrNotMember),
		errors.Is(err, service.ErrConnectionInactive):
		response.BusinessError(c, response.CodeNotMember, err.Error())
	case errors.Is(err, service.ErrAlreadyConnected):
		response.BusinessError(c, response.CodeAlreadyConnected, err.Error())
	case errors.Is(err, service.ErrQuotaExceeded):
		response.BusinessError(c, response.CodeQuotaExceeded, err.Error())
	case errors.Is(err, service.ErrConnectionInTimeout):
		response.BusinessError(c, response.CodeInTimeout, err.Error())
	case errors.Is(err, service.ErrBalanceConflict):
		response.BusinessError(c, response.CodeBalanceConflict, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrConnectionNotFound):
		response.BusinessError(c, response.CodeConnectionNotFound, err.Error())
	case errors.Is(err, repository.ErrTimeoutNotFound):
		response.BusinessError(c, response.CodeTimeoutNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// CreateAccountRequest 创建账户请求
type CreateAccountRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

// CreateAccount 创建（或获取）账户
// POST /api/v1/account/create
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.GetOrCreate(c.Request.Context(), req.UserID, req.DisplayName)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, account)
}

// GetBalance 查询用户余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	account, err := h.accountService.Get(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":    account.UserID,
		"balance":    account.Balance,
		"partner_id": account.PartnerID,
	})
}

// ============================================================
// 连接相关接口
// ============================================================

// PairRequest 配对请求
type PairRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Token  string `json:"token" binding:"required"` // 对方的配对口令
}

// Pair 用配对口令建立连接
// POST /api/v1/connection/pair
func (h *Handler) Pair(c *gin.Context) {
	var req PairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	conn, err := h.connectionService.Pair(c.Request.Context(), req.UserID, req.Token)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, conn)
}

// GetConnection 查询连接详情
// GET /api/v1/connection/detail?connection_id=xxx
func (h *Handler) GetConnection(c *gin.Context) {
	connectionID := c.Query("connection_id")
	if connectionID == "" {
		response.ParamError(c, "connection_id 参数不能为空")
		return
	}

	conn, err := h.connectionService.Get(c.Request.Context(), connectionID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, conn)
}

// Disconnect 解除连接
// POST /api/v1/connection/disconnect
func (h *Handler) Disconnect(c *gin.Context) {
	var req struct {
		ConnectionID string `json:"connection_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.connectionService.Disconnect(c.Request.Context(), req.ConnectionID); err != nil {
		writeServiceError(c, err)
		return
	}

	// 解除连接后不再需要本地倒计时
	h.timeoutService.StopMonitoring(req.ConnectionID)

	response.Success(c, gin.H{
		"message": "连接已解除",
	})
}

// ============================================================
// 转账相关接口
// ============================================================

// TransferRequest 转账请求
type TransferRequest struct {
	RequestID    string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	SenderID     int64  `json:"sender_id" binding:"required"`
	ReceiverID   int64  `json:"receiver_id" binding:"required"`
	ConnectionID string `json:"connection_id" binding:"required"`
	Points       int64  `json:"points" binding:"required"` // 有符号：正数赠送，负数扣除
	Kind         string `json:"kind" binding:"required"`   // GIVE / DEDUCT
	Message      string `json:"message"`
}

// Transfer 执行转账
// POST /api/v1/transfer/execute
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	record, err := h.transferService.Transfer(c.Request.Context(), &service.TransferRequest{
		RequestID:    req.RequestID,
		SenderID:     req.SenderID,
		ReceiverID:   req.ReceiverID,
		ConnectionID: req.ConnectionID,
		Points:       req.Points,
		Kind:         req.Kind,
		Message:      req.Message,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, record)
}

// ListTransfers 查询连接内的流水
// GET /api/v1/transfer/list?connection_id=xxx&page=1&page_size=10
func (h *Handler) ListTransfers(c *gin.Context) {
	connectionID := c.Query("connection_id")
	if connectionID == "" {
		response.ParamError(c, "connection_id 参数不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	records, total, err := h.transferService.ListByConnection(c.Request.Context(), connectionID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 冷静期相关接口
// ============================================================

// RequestTimeoutRequest 发起冷静期请求
type RequestTimeoutRequest struct {
	UserID       int64  `json:"user_id" binding:"required"`
	ConnectionID string `json:"connection_id" binding:"required"`
}

// RequestTimeout 发起冷静期
// POST /api/v1/timeout/request
func (h *Handler) RequestTimeout(c *gin.Context) {
	var req RequestTimeoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	record, err := h.timeoutService.Request(c.Request.Context(), req.UserID, req.ConnectionID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, record)
}

// GetTimeoutStatus 查询连接的冷静期状态
// GET /api/v1/timeout/status?connection_id=xxx
//
// 状态由存储记录对当前时钟推算，任意数量的客户端可随时轮询
func (h *Handler) GetTimeoutStatus(c *gin.Context) {
	connectionID := c.Query("connection_id")
	if connectionID == "" {
		response.ParamError(c, "connection_id 参数不能为空")
		return
	}

	status, err := h.timeoutService.Status(c.Request.Context(), connectionID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, status)
}
