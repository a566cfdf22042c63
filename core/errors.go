package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 可包装底层错误（Err），支持 errors.Is / errors.As
//   - 支持错误检查函数（IsXXX）
//
// 错误分类：
//   - CONFIGURATION：前置条件不满足（未设置模型、留一法切分不一致、负样本候选不足），不可重试
//   - DATA_INTEGRITY：单条数据损坏（embedding 维度不匹配），不得静默污染整体指标
//   - NUMERICAL：loss 或打分出现 NaN/Inf，不自动恢复
//   - EXTERNAL：外部协作方失败（embedding 源、checkpoint 存储），由调用方决定是否重试
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "CONFIGURATION"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "engine", "sample"）
	Err     error  // 底层错误，可为 nil
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is 在 Module、Code 与 Message 都相同时视为同一错误。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code && e.Message == t.Message
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链上的第一个 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建包装了底层错误的领域错误
func WrapDomainError(module, code, message string, err error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 训练与打分链路的错误代码
	ErrorCodeConfiguration = "CONFIGURATION"  // 配置/前置条件错误
	ErrorCodeDataIntegrity = "DATA_INTEGRITY" // 数据完整性错误
	ErrorCodeNumerical     = "NUMERICAL"      // 数值错误
	ErrorCodeExternal      = "EXTERNAL"       // 外部协作方错误
)

// 模块名称常量
const (
	ModuleStore      = "store"      // 存储模块
	ModuleFeature    = "feature"    // 特征模块
	ModuleService    = "service"    // 服务模块
	ModuleSample     = "sample"     // 样本生成
	ModuleModel      = "model"      // 打分模型
	ModuleEngine     = "engine"     // 训练/评估引擎
	ModuleCheckpoint = "checkpoint" // 模型存档
	ModuleTimeline   = "timeline"   // 在线排序
	ModuleDatabase   = "database"   // 关系库
)

// ConfigurationError 创建配置类错误。
func ConfigurationError(module, message string) *DomainError {
	return NewDomainError(module, ErrorCodeConfiguration, message)
}

// ConfigurationErrorf 按格式创建配置类错误。
func ConfigurationErrorf(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeConfiguration, fmt.Sprintf(format, args...))
}

// DataIntegrityErrorf 按格式创建数据完整性错误。
func DataIntegrityErrorf(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeDataIntegrity, fmt.Sprintf(format, args...))
}

// NumericalErrorf 按格式创建数值错误。
func NumericalErrorf(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeNumerical, fmt.Sprintf(format, args...))
}

// InvalidInputErrorf 按格式创建输入错误。
func InvalidInputErrorf(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeInvalidInput, fmt.Sprintf(format, args...))
}

// ExternalError 包装外部协作方（embedding 源、checkpoint 存储等）的失败。
func ExternalError(module, message string, err error) *DomainError {
	return WrapDomainError(module, ErrorCodeExternal, message, err)
}

var (
	// ErrModelNotSet 表示引擎在未设置模型时被调用
	ErrModelNotSet = ConfigurationError(ModuleEngine, "engine: model is not set")

	// ErrModelNotLoaded 表示在线服务尚未加载任何模型
	ErrModelNotLoaded = NewDomainError(ModuleTimeline, ErrorCodeUnavailable, "timeline: no model loaded")
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	return hasCode(err, ErrorCodeUnavailable)
}

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrorCodeInvalidInput)
}

// IsConfiguration 检查错误是否为 CONFIGURATION
func IsConfiguration(err error) bool {
	return hasCode(err, ErrorCodeConfiguration)
}

// IsDataIntegrity 检查错误是否为 DATA_INTEGRITY
func IsDataIntegrity(err error) bool {
	return hasCode(err, ErrorCodeDataIntegrity)
}

// IsNumerical 检查错误是否为 NUMERICAL
func IsNumerical(err error) bool {
	return hasCode(err, ErrorCodeNumerical)
}

// IsExternal 检查错误是否为 EXTERNAL
func IsExternal(err error) bool {
	return hasCode(err, ErrorCodeExternal)
}
