package service

import "fmt"

// ValidationError 记录不完整或格式非法
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("记录校验失败: %s", e.Reason)
}

// MissingReferenceError 引用的服务器不存在，且记录未携带可用于自动创建的服务器信息
type MissingReferenceError struct {
	ServerID string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("服务器 %s 不存在", e.ServerID)
}

// StorageError 底层存储操作失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("存储操作 %s 失败: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
