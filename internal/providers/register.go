package providers

import (
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// 内置 provider 的名称，也是其他插件注入时使用的依赖名。
const (
	NameUsers    = "users"
	NameJWTKey   = "jwtKey"
	NameEvents   = "events"
	NameRedis    = "redis"
	NameRabbitMQ = "rabbitmq"
	NameMySQL    = "mysql"
	NamePostgres = "postgres"
	NameMongo    = "mclient"
)

// 提供值的类型标识，供注入点的 expectedType 校验。
const (
	TypeRealm          = "realm"
	TypeJWTKey         = "jwt-key"
	TypeEventsProducer = "events-producer"
	TypeRedisClient    = "redis-client"
	TypeAMQPConnection = "amqp-connection"
	TypeSQLDB          = "sql-db"
	TypeMongoClient    = "mongo-client"
)

// Register 将内置 provider 登记到 catalog。
func Register(c *plugin.Catalog) {
	c.MustRegister(plugin.Descriptor{
		Name:             NameUsers,
		Description:      "account realm loaded from a users file or inline configuration",
		Kind:             plugin.KindProvider,
		ProvidedType:     TypeRealm,
		EnabledByDefault: true,
		Capabilities:     []plugin.Capability{plugin.CapabilityFilesystem},
	}, func() (any, error) { return &Users{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameJWTKey,
		Description:      "HMAC key for signing authentication tokens",
		Kind:             plugin.KindProvider,
		ProvidedType:     TypeJWTKey,
		EnabledByDefault: true,
	}, func() (any, error) { return &JWTKey{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:             NameEvents,
		Description:      "producer of completed exchange events",
		Kind:             plugin.KindProvider,
		ProvidedType:     TypeEventsProducer,
		EnabledByDefault: true,
	}, func() (any, error) { return &Events{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:         NameRedis,
		Description:  "shared Redis client",
		Kind:         plugin.KindProvider,
		ProvidedType: TypeRedisClient,
		Capabilities: []plugin.Capability{plugin.CapabilityNetwork},
	}, func() (any, error) { return &Redis{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:         NameRabbitMQ,
		Description:  "shared RabbitMQ connection",
		Kind:         plugin.KindProvider,
		ProvidedType: TypeAMQPConnection,
		Capabilities: []plugin.Capability{plugin.CapabilityNetwork},
	}, func() (any, error) { return &RabbitMQ{}, nil })

	c.MustRegister(plugin.Descriptor{
		Name:         NameMySQL,
		Description:  "shared MySQL connection pool",
		Kind:         plugin.KindProvider,
		ProvidedType: TypeSQLDB,
		Capabilities: []plugin.Capability{plugin.CapabilityNetwork},
	}, func() (any, error) { return NewMySQL(), nil })

	c.MustRegister(plugin.Descriptor{
		Name:         NamePostgres,
		Description:  "shared PostgreSQL connection pool",
		Kind:         plugin.KindProvider,
		ProvidedType: TypeSQLDB,
		Capabilities: []plugin.Capability{plugin.CapabilityNetwork},
	}, func() (any, error) { return NewPostgres(), nil })

	c.MustRegister(plugin.Descriptor{
		Name:         NameMongo,
		Description:  "shared MongoDB client",
		Kind:         plugin.KindProvider,
		ProvidedType: TypeMongoClient,
		Capabilities: []plugin.Capability{plugin.CapabilityNetwork},
	}, func() (any, error) { return &Mongo{}, nil })
}
