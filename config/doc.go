// Package config 提供 streamgate 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量以 STREAMGATE_<段>_<字段> 命名。Validate 校验端口、
// 流协调间隔与 TTL 的关系（TTL 必须大于心跳间隔）等约束。
package config
