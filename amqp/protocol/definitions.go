package protocol

// AMQP091 lists the AMQP 0-9-1 classes with the RabbitMQ extensions
// (confirm, exchange bindings, basic.nack, connection.blocked).
var AMQP091 = []ClassDef{
	{
		Name: "connection",
		ID:   10,
		Methods: []MethodDef{
			{Name: "start", ID: 10, Fields: []Field{
				{Name: "versionMajor", Domain: DomainOctet},
				{Name: "versionMinor", Domain: DomainOctet},
				{Name: "serverProperties", Domain: DomainTable},
				{Name: "mechanisms", Domain: DomainLongStr},
				{Name: "locales", Domain: DomainLongStr},
			}},
			{Name: "startOk", ID: 11, Fields: []Field{
				{Name: "clientProperties", Domain: DomainTable},
				{Name: "mechanism", Domain: DomainShortStr},
				{Name: "response", Domain: DomainLongStr},
				{Name: "locale", Domain: DomainShortStr},
			}},
			{Name: "secure", ID: 20, Fields: []Field{
				{Name: "challenge", Domain: DomainLongStr},
			}},
			{Name: "secureOk", ID: 21, Fields: []Field{
				{Name: "response", Domain: DomainLongStr},
			}},
			{Name: "tune", ID: 30, Fields: []Field{
				{Name: "channelMax", Domain: DomainShort},
				{Name: "frameMax", Domain: DomainLong},
				{Name: "heartbeat", Domain: DomainShort},
			}},
			{Name: "tuneOk", ID: 31, Fields: []Field{
				{Name: "channelMax", Domain: DomainShort},
				{Name: "frameMax", Domain: DomainLong},
				{Name: "heartbeat", Domain: DomainShort},
			}},
			{Name: "open", ID: 40, Fields: []Field{
				{Name: "virtualHost", Domain: DomainShortStr},
				{Name: "reserved1", Domain: DomainShortStr},
				{Name: "reserved2", Domain: DomainBit},
			}},
			{Name: "openOk", ID: 41, Fields: []Field{
				{Name: "reserved1", Domain: DomainShortStr},
			}},
			{Name: "close", ID: 50, Fields: []Field{
				{Name: "replyCode", Domain: DomainShort},
				{Name: "replyText", Domain: DomainShortStr},
				{Name: "classId", Domain: DomainShort},
				{Name: "methodId", Domain: DomainShort},
			}},
			{Name: "closeOk", ID: 51},
			{Name: "blocked", ID: 60, Fields: []Field{
				{Name: "reason", Domain: DomainShortStr},
			}},
			{Name: "unblocked", ID: 61},
		},
	},
	{
		Name: "channel",
		ID:   20,
		Methods: []MethodDef{
			{Name: "open", ID: 10, Fields: []Field{
				{Name: "reserved1", Domain: DomainShortStr},
			}},
			{Name: "openOk", ID: 11, Fields: []Field{
				{Name: "reserved1", Domain: DomainLongStr},
			}},
			{Name: "flow", ID: 20, Fields: []Field{
				{Name: "active", Domain: DomainBit},
			}},
			{Name: "flowOk", ID: 21, Fields: []Field{
				{Name: "active", Domain: DomainBit},
			}},
			{Name: "close", ID: 40, Fields: []Field{
				{Name: "replyCode", Domain: DomainShort},
				{Name: "replyText", Domain: DomainShortStr},
				{Name: "classId", Domain: DomainShort},
				{Name: "methodId", Domain: DomainShort},
			}},
			{Name: "closeOk", ID: 41},
		},
	},
	{
		Name: "exchange",
		ID:   40,
		Methods: []MethodDef{
			{Name: "declare", ID: 10, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "exchange", Domain: DomainShortStr},
				{Name: "type", Domain: DomainShortStr},
				{Name: "passive", Domain: DomainBit},
				{Name: "durable", Domain: DomainBit},
				{Name: "autoDelete", Domain: DomainBit},
				{Name: "internal", Domain: DomainBit},
				{Name: "noWait", Domain: DomainBit},
				{Name: "arguments", Domain: DomainTable},
			}},
			{Name: "declareOk", ID: 11},
			{Name: "delete", ID: 20, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "exchange", Domain: DomainShortStr},
				{Name: "ifUnused", Domain: DomainBit},
				{Name: "noWait", Domain: DomainBit},
			}},
			{Name: "deleteOk", ID: 21},
			{Name: "bind", ID: 30, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "destination", Domain: DomainShortStr},
				{Name: "source", Domain: DomainShortStr},
				{Name: "routingKey", Domain: DomainShortStr},
				{Name: "noWait", Domain: DomainBit},
				{Name: "arguments", Domain: DomainTable},
			}},
			{Name: "bindOk", ID: 31},
			{Name: "unbind", ID: 40, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "destination", Domain: DomainShortStr},
				{Name: "source", Domain: DomainShortStr},
				{Name: "routingKey", Domain: DomainShortStr},
				{Name: "noWait", Domain: DomainBit},
				{Name: "arguments", Domain: DomainTable},
			}},
			{Name: "unbindOk", ID: 51},
		},
	},
	{
		Name: "queue",
		ID:   50,
		Methods: []MethodDef{
			{Name: "declare", ID: 10, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "queue", Domain: DomainShortStr},
				{Name: "passive", Domain: DomainBit},
				{Name: "durable", Domain: DomainBit},
				{Name: "exclusive", Domain: DomainBit},
				{Name: "autoDelete", Domain: DomainBit},
				{Name: "noWait", Domain: DomainBit},
				{Name: "arguments", Domain: DomainTable},
			}},
			{Name: "declareOk", ID: 11, Fields: []Field{
				{Name: "queue", Domain: DomainShortStr},
				{Name: "messageCount", Domain: DomainLong},
				{Name: "consumerCount", Domain: DomainLong},
			}},
			{Name: "bind", ID: 20, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "queue", Domain: DomainShortStr},
				{Name: "exchange", Domain: DomainShortStr},
				{Name: "routingKey", Domain: DomainShortStr},
				{Name: "noWait", Domain: DomainBit},
				{Name: "arguments", Domain: DomainTable},
			}},
			{Name: "bindOk", ID: 21},
			{Name: "unbind", ID: 50, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "queue", Domain: DomainShortStr},
				{Name: "exchange", Domain: DomainShortStr},
				{Name: "routingKey", Domain: DomainShortStr},
				{Name: "arguments", Domain: DomainTable},
			}},
			{Name: "unbindOk", ID: 51},
			{Name: "purge", ID: 30, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "queue", Domain: DomainShortStr},
				{Name: "noWait", Domain: DomainBit},
			}},
			{Name: "purgeOk", ID: 31, Fields: []Field{
				{Name: "messageCount", Domain: DomainLong},
			}},
			{Name: "delete", ID: 40, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "queue", Domain: DomainShortStr},
				{Name: "ifUnused", Domain: DomainBit},
				{Name: "ifEmpty", Domain: DomainBit},
				{Name: "noWait", Domain: DomainBit},
			}},
			{Name: "deleteOk", ID: 41, Fields: []Field{
				{Name: "messageCount", Domain: DomainLong},
			}},
		},
	},
	{
		Name: "basic",
		ID:   60,
		Properties: []Field{
			{Name: "contentType", Domain: DomainShortStr},
			{Name: "contentEncoding", Domain: DomainShortStr},
			{Name: "headers", Domain: DomainTable},
			{Name: "deliveryMode", Domain: DomainOctet},
			{Name: "priority", Domain: DomainOctet},
			{Name: "correlationId", Domain: DomainShortStr},
			{Name: "replyTo", Domain: DomainShortStr},
			{Name: "expiration", Domain: DomainShortStr},
			{Name: "messageId", Domain: DomainShortStr},
			{Name: "timestamp", Domain: DomainTimestamp},
			{Name: "type", Domain: DomainShortStr},
			{Name: "userId", Domain: DomainShortStr},
			{Name: "appId", Domain: DomainShortStr},
			{Name: "reserved", Domain: DomainShortStr},
		},
		Methods: []MethodDef{
			{Name: "qos", ID: 10, Fields: []Field{
				{Name: "prefetchSize", Domain: DomainLong},
				{Name: "prefetchCount", Domain: DomainShort},
				{Name: "global", Domain: DomainBit},
			}},
			{Name: "qosOk", ID: 11},
			{Name: "consume", ID: 20, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "queue", Domain: DomainShortStr},
				{Name: "consumerTag", Domain: DomainShortStr},
				{Name: "noLocal", Domain: DomainBit},
				{Name: "noAck", Domain: DomainBit},
				{Name: "exclusive", Domain: DomainBit},
				{Name: "noWait", Domain: DomainBit},
				{Name: "arguments", Domain: DomainTable},
			}},
			{Name: "consumeOk", ID: 21, Fields: []Field{
				{Name: "consumerTag", Domain: DomainShortStr},
			}},
			{Name: "cancel", ID: 30, Fields: []Field{
				{Name: "consumerTag", Domain: DomainShortStr},
				{Name: "noWait", Domain: DomainBit},
			}},
			{Name: "cancelOk", ID: 31, Fields: []Field{
				{Name: "consumerTag", Domain: DomainShortStr},
			}},
			{Name: "publish", ID: 40, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "exchange", Domain: DomainShortStr},
				{Name: "routingKey", Domain: DomainShortStr},
				{Name: "mandatory", Domain: DomainBit},
				{Name: "immediate", Domain: DomainBit},
			}},
			{Name: "return", ID: 50, Fields: []Field{
				{Name: "replyCode", Domain: DomainShort},
				{Name: "replyText", Domain: DomainShortStr},
				{Name: "exchange", Domain: DomainShortStr},
				{Name: "routingKey", Domain: DomainShortStr},
			}},
			{Name: "deliver", ID: 60, Fields: []Field{
				{Name: "consumerTag", Domain: DomainShortStr},
				{Name: "deliveryTag", Domain: DomainLongLong},
				{Name: "redelivered", Domain: DomainBit},
				{Name: "exchange", Domain: DomainShortStr},
				{Name: "routingKey", Domain: DomainShortStr},
			}},
			{Name: "get", ID: 70, Fields: []Field{
				{Name: "reserved1", Domain: DomainShort},
				{Name: "queue", Domain: DomainShortStr},
				{Name: "noAck", Domain: DomainBit},
			}},
			{Name: "getOk", ID: 71, Fields: []Field{
				{Name: "deliveryTag", Domain: DomainLongLong},
				{Name: "redelivered", Domain: DomainBit},
				{Name: "exchange", Domain: DomainShortStr},
				{Name: "routingKey", Domain: DomainShortStr},
				{Name: "messageCount", Domain: DomainLong},
			}},
			{Name: "getEmpty", ID: 72, Fields: []Field{
				{Name: "reserved1", Domain: DomainShortStr},
			}},
			{Name: "ack", ID: 80, Fields: []Field{
				{Name: "deliveryTag", Domain: DomainLongLong},
				{Name: "multiple", Domain: DomainBit},
			}},
			{Name: "reject", ID: 90, Fields: []Field{
				{Name: "deliveryTag", Domain: DomainLongLong},
				{Name: "requeue", Domain: DomainBit},
			}},
			{Name: "recoverAsync", ID: 100, Fields: []Field{
				{Name: "requeue", Domain: DomainBit},
			}},
			{Name: "recover", ID: 110, Fields: []Field{
				{Name: "requeue", Domain: DomainBit},
			}},
			{Name: "recoverOk", ID: 111},
			{Name: "nack", ID: 120, Fields: []Field{
				{Name: "deliveryTag", Domain: DomainLongLong},
				{Name: "multiple", Domain: DomainBit},
				{Name: "requeue", Domain: DomainBit},
			}},
		},
	},
	{
		Name: "tx",
		ID:   90,
		Methods: []MethodDef{
			{Name: "select", ID: 10},
			{Name: "selectOk", ID: 11},
			{Name: "commit", ID: 20},
			{Name: "commitOk", ID: 21},
			{Name: "rollback", ID: 30},
			{Name: "rollbackOk", ID: 31},
		},
	},
	{
		Name: "confirm",
		ID:   85,
		Methods: []MethodDef{
			{Name: "select", ID: 10, Fields: []Field{
				{Name: "noWait", Domain: DomainBit},
			}},
			{Name: "selectOk", ID: 11},
		},
	},
}
