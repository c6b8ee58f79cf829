package demo

const ordersInventory = `service: orders
base_url: http://orders:8080
service_urls:
  shipping: http://shipping:9090
endpoints:
  - method: POST
    path: /orders
    class: OrderController
    handler: createOrder
    returns: Order
    parameters:
      - {name: order, type: OrderRequest, source: body}
    call_tree:
      OrderController.createOrder: [OrderService.place]
      OrderService.place: [OrderService.ship, OrderService.bill]
  - method: GET
    path: /orders/{id}
    class: OrderController
    handler: getOrder
    returns: Order
    parameters:
      - {name: id, type: java.lang.Long, source: path}
calls:
  - target: shipping
    method: POST
    path: /shipments
    kind: http
    calling_method: OrderService.ship
    parameters:
      - {name: orderId, type: Long, source: body}
    returns: Shipment
  - target: billing
    method: POST
    path: /invoices
    kind: kafka
    calling_method: OrderService.bill
`

const shippingInventory = `service: shipping
base_url: http://shipping:9090
endpoints:
  - method: POST
    path: /shipments
    class: ShipmentController
    handler: createShipment
    returns: Shipment
    parameters:
      - {name: orderId, type: Long, source: body}
  - method: GET
    path: /shipments/{shipmentId}
    class: ShipmentController
    handler: getShipment
    returns: Shipment
    parameters:
      - {name: shipmentId, type: Long, source: path}
`

const ordersDoc = "---\n" +
	"service: orders\n" +
	"title: Orders Service Design\n" +
	"---\n\n" +
	"## Class Diagram\n\n" +
	"```mermaid\n" +
	"classDiagram\n" +
	"  class OrderController {\n" +
	"    +createOrder(OrderRequest order) Order\n" +
	"    +getOrder(Long id) Order\n" +
	"  }\n" +
	"```\n\n" +
	"## Sequence Diagram\n\n" +
	"```mermaid\n" +
	"sequenceDiagram\n" +
	"  participant orders\n" +
	"  participant shipping\n" +
	"  orders->>shipping: POST /shipments\n" +
	"  orders-)billing: POST /invoices\n" +
	"```\n\n" +
	"## API Entries\n\n" +
	"| Class | Method | Returns | Parameters |\n" +
	"|-------|--------|---------|------------|\n" +
	"| OrderController | createOrder | Order | order:OrderRequest |\n" +
	"| OrderController | getOrder | Order | id:Long |\n\n" +
	"## Sequence Logic\n\n" +
	"1. Client calls createOrder\n" +
	"2. The order is handed to shipping\n\n" +
	"## Exposed APIs\n\n" +
	"- POST /orders\n" +
	"- GET /orders/{id}\n\n" +
	"## External APIs\n\n" +
	"- POST /shipments on shipping\n" +
	"- POST /invoices on billing\n"

const shippingDoc = "---\n" +
	"service: shipping\n" +
	"title: Shipping Service Design\n" +
	"---\n\n" +
	"## API Entries\n\n" +
	"| Class | Method | Returns | Parameters |\n" +
	"|-------|--------|---------|------------|\n" +
	"| ShipmentController | createShipment | Shipment | orderId:Long, carrier:String |\n\n" +
	"## Exposed APIs\n\n" +
	"- POST /shipments\n" +
	"- GET /shipments/{id}\n" +
	"- DELETE /shipments/{id}\n"
