package host

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/oriys/faasrt/internal/domain"
	"github.com/sirupsen/logrus"
)

// NATSServer 通过 NATS 请求/应答接收调用请求。
// 同一队列组内的多个运行时实例分摊消息。
type NATSServer struct {
	conn   *nats.Conn
	rt     Runtime
	logger *logrus.Logger
}

// NewNATSServer 连接 NATS 服务器，连接断开后自动重连。
func NewNATSServer(natsURL string, rt Runtime, logger *logrus.Logger) (*NATSServer, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("faasrt"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSServer{conn: nc, rt: rt, logger: logger}, nil
}

// Serve 以队列订阅方式处理 subject 上的消息，阻塞直到 ctx 取消。
func (s *NATSServer) Serve(ctx context.Context, subject, queue string) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		reply := HandleMessage(ctx, s.rt, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			s.logger.WithError(err).WithField("subject", msg.Subject).Error("Failed to reply invocation")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", subject, err)
	}

	s.logger.WithFields(logrus.Fields{
		"subject": subject,
		"queue":   queue,
	}).Info("NATS host subscribed")

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return err
	}
	return nil
}

// Close 关闭底层 NATS 连接。
func (s *NATSServer) Close() error {
	s.conn.Close()
	return nil
}

// HandleMessage 处理一条 NATS 消息，消息体为调用请求 JSON，返回调用响应 JSON。
// 消息缺少请求 ID 时生成一个。
func HandleMessage(ctx context.Context, rt Runtime, data []byte) []byte {
	var resp domain.InvokeResponse
	var req domain.InvokeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		resp = failedResponse(invalidEvent(err))
	} else {
		if _, ok := req.Header(rt.RequestIDHeader()); !ok {
			if req.Headers == nil {
				req.Headers = map[string]string{}
			}
			req.Headers[rt.RequestIDHeader()] = uuid.NewString()
		}
		resp = rt.EntryHandler(ctx, req)
	}
	out, _ := json.Marshal(resp)
	return out
}
