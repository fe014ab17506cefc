// Package broker forwards Transaction batches over a message broker.
//
// A Proxy runs in processes without store credentials. It buffers items
// like any other sink and sends each flushed batch as a request. A Bridge
// runs next to the primary-store sink, listens on the same subject as a
// queue group and feeds what it receives into that sink, replying with an
// Ack:
//
//	conn, _ := broker.ConnectNATS(nats.DefaultURL, "orders")
//	proxy, _ := broker.NewProxy(broker.ProxyConfig[*transaction.Transaction]{
//		Conn:    conn,
//		Subject: "apm.transactions",
//	})
//	transaction.Default().Use(proxy)
//
// Binary payloads can travel next to the batch instead of inside it with
// DeflateEnvelope on the proxy and InflateEnvelope on the bridge.
package broker
