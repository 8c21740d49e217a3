// Package services 实现摄取任务的业务用例编排：任务生命周期、分片上传、
// 处理回调、中继转发与流式摄取。持久化与存储协议细节由各依赖接口隔离。
package services

import "github.com/google/wire"

// ProviderSet 暴露可直接注入的服务构造函数。
// 需要配置原语（分片大小、白名单）的服务由 cmd 侧的 provider 函数装配。
var ProviderSet = wire.NewSet(NewJobService, NewProcessingStatusService)
